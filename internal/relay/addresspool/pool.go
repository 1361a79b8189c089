// Package addresspool implements the loopback address pool shared with an
// external hosts-file helper over JSON: allocation of 127.0.0.X
// addresses, expiring after 7 days since last refresh. This package owns
// only the file format and allocation algorithm, not the hosts-file
// editing itself, which belongs to the external helper process.
package addresspool

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const maxAllocationAge = 7 * 24 * time.Hour

// Allocation is one entry in the pool file.
type Allocation struct {
	ServiceName   string    `json:"serviceName"`
	LastRefreshed time.Time `json:"lastRefreshed"`
}

// File is the on-disk JSON shape: {"allocations": {"127.0.0.X": {...}}}.
type File struct {
	Allocations map[string]Allocation `json:"allocations"`
}

// Pool wraps one address-pool file, sweeping expired entries on demand.
type Pool struct {
	path string
}

func New(path string) *Pool {
	return &Pool{path: path}
}

func (p *Pool) load() (File, error) {
	f := File{Allocations: make(map[string]Allocation)}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return f, err
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, err
	}
	if f.Allocations == nil {
		f.Allocations = make(map[string]Allocation)
	}
	return f, nil
}

func (p *Pool) save(f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, data, 0o644)
}

func (p *Pool) sweepExpired(f File) {
	now := time.Now()
	for addr, alloc := range f.Allocations {
		if now.Sub(alloc.LastRefreshed) > maxAllocationAge {
			delete(f.Allocations, addr)
		}
	}
}

// ErrExhausted is returned when no address in 127.0.0.2-254 is free.
var ErrExhausted = fmt.Errorf("address pool exhausted")

// Allocate sweeps expired entries, then finds the first free
// 127.0.0.X address, searching linearly from octet 2 to 254.
func (p *Pool) Allocate(serviceName string) (string, error) {
	f, err := p.load()
	if err != nil {
		return "", err
	}
	p.sweepExpired(f)

	for octet := 2; octet <= 254; octet++ {
		addr := fmt.Sprintf("127.0.0.%d", octet)
		if _, taken := f.Allocations[addr]; !taken {
			f.Allocations[addr] = Allocation{ServiceName: serviceName, LastRefreshed: time.Now()}
			if err := p.save(f); err != nil {
				return "", err
			}
			return addr, nil
		}
	}
	// persist the sweep even on exhaustion, without corrupting the file.
	if err := p.save(f); err != nil {
		return "", err
	}
	return "", ErrExhausted
}

// Release removes an allocation.
func (p *Pool) Release(addr string) error {
	f, err := p.load()
	if err != nil {
		return err
	}
	delete(f.Allocations, addr)
	return p.save(f)
}
