package kubeclient

import (
	"crypto/tls"

	"k8s.io/client-go/rest"
)

// TLSBackend builds a tls.Config for a REST client's transport material.
// This keeps a seam for selecting between TLS stacks at runtime; Go's
// ecosystem has one mature stack (crypto/tls), so only one backend is
// registered below, but a second (e.g. a FIPS or BoringSSL-backed build
// tag variant) can be added without touching call sites.
type TLSBackend interface {
	Name() string
	Build(cfg *rest.Config) (*tls.Config, error)
}

// stdlibTLSBackend builds the tls.Config via rest.TLSConfigFor, which
// itself threads through crypto/tls using the REST config's CA/cert
// material.
type stdlibTLSBackend struct{}

func (stdlibTLSBackend) Name() string { return "stdlib" }

func (stdlibTLSBackend) Build(cfg *rest.Config) (*tls.Config, error) {
	return rest.TLSConfigFor(cfg)
}

// tlsBackends is the ordered list of implementations tried; the first
// that builds without error wins. Only the stdlib backend is registered
// today; a second would be appended here behind a build tag.
var tlsBackends = []TLSBackend{stdlibTLSBackend{}}

// buildTLSConfig runs tlsBackends in order, returning the first success.
func buildTLSConfig(cfg *rest.Config) (*tls.Config, error) {
	var lastErr error
	for _, backend := range tlsBackends {
		tlsCfg, err := backend.Build(cfg)
		if err == nil {
			return tlsCfg, nil
		}
		lastErr = err
	}
	return nil, newErr(ConnectionError, "no TLS backend could build a config", lastErr)
}
