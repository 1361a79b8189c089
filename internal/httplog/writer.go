package httplog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"kftray-core/pkg/logging"
)

// WriterConfig controls file layout, rotation and retention for one
// (configId, localPort) log stream.
type WriterConfig struct {
	Dir           string
	Alias         string
	ConfigID      int64
	LocalPort     uint16
	MaxFileSize   int64
	RetentionDays int
}

// Writer owns the on-disk file for one forward; it is the only component
// that performs file I/O for this pipeline.
type Writer struct {
	cfg      WriterConfig
	file     *os.File
	buf      *bufio.Writer
	size     int64
	disabled bool
}

func NewWriter(cfg WriterConfig) (*Writer, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	w := &Writer{cfg: cfg}
	if err := w.openNew(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) currentPath() string {
	name := fmt.Sprintf("%s-%d-%d.log", w.cfg.Alias, w.cfg.LocalPort, time.Now().Unix())
	return filepath.Join(w.cfg.Dir, name)
}

func (w *Writer) openNew() error {
	f, err := os.OpenFile(w.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.size = 0
	return nil
}

// Write appends a formatted record, rotating first if it would exceed
// MaxFileSize.
func (w *Writer) Write(record string) {
	if w.disabled {
		return
	}
	if w.cfg.MaxFileSize > 0 && w.size+int64(len(record)) > w.cfg.MaxFileSize {
		if err := w.rotate(); err != nil {
			w.fail(err)
			return
		}
	}
	n, err := w.buf.WriteString(record)
	if err != nil {
		w.fail(err)
		return
	}
	w.size += int64(n)
}

// Flush implements the periodic FlushTrigger so partial writes survive
// idle periods.
func (w *Writer) Flush() {
	if w.disabled || w.buf == nil {
		return
	}
	if err := w.buf.Flush(); err != nil {
		w.fail(err)
	}
}

func (w *Writer) fail(err error) {
	logging.Error("httplog", err, "writer error for config %d, disabling pipeline", w.cfg.ConfigID)
	w.disabled = true
}

// rotate renames the current file with a numeric suffix and opens a
// fresh one.
func (w *Writer) rotate() error {
	w.buf.Flush()
	w.file.Close()

	existing, _ := filepath.Glob(filepath.Join(w.cfg.Dir, fmt.Sprintf("%s-%d-*.log.*", w.cfg.Alias, w.cfg.LocalPort)))
	next := len(existing) + 1
	rotated := w.file.Name() + "." + strconv.Itoa(next)
	if err := os.Rename(w.file.Name(), rotated); err != nil {
		return err
	}
	return w.openNew()
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	if w.buf != nil {
		w.buf.Flush()
	}
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// SweepRetention deletes files under dir older than retentionDays,
// invoked hourly by each Pipeline's drain loop.
func SweepRetention(dir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") && !strings.Contains(e.Name(), ".log.") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
