package requery

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// Persister is the pluggable store queries seed from and write through to.
// Values are opaque encoded bytes; the client owns the codec. Implementations
// must be safe for concurrent use.
type Persister interface {
	// Get returns the stored bytes for key and whether they exist.
	Get(key string) ([]byte, bool)
	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
}

// MemoryPersister keeps encoded values in process memory. It survives client
// resets but not process restarts, which makes it the persister of choice
// for tests.
type MemoryPersister struct {
	data sync.Map
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Get(key string) ([]byte, bool) {
	value, ok := p.data.Load(key)
	if !ok {
		return nil, false
	}
	stored := value.([]byte)
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, true
}

func (p *MemoryPersister) Set(key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	p.data.Store(key, stored)
	return nil
}

func (p *MemoryPersister) Remove(key string) error {
	p.data.Delete(key)
	return nil
}

// Size returns the number of stored keys.
func (p *MemoryPersister) Size() int {
	count := 0
	p.data.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Clear removes every stored key.
func (p *MemoryPersister) Clear() {
	p.data.Range(func(key, _ any) bool {
		p.data.Delete(key)
		return true
	})
}

// FilePersister stores each key as one file in a directory. Keys are
// path-escaped, so any key string is a valid filename on unix systems.
type FilePersister struct {
	dir string
}

// NewFilePersister creates dir if needed. A leading ~ resolves to the
// user's home directory.
func NewFilePersister(dir string) (*FilePersister, error) {
	resolved, err := expandPath(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return nil, fmt.Errorf("requery: creating persist dir: %w", err)
	}
	return &FilePersister{dir: resolved}, nil
}

func (p *FilePersister) path(key string) string {
	return filepath.Join(p.dir, url.PathEscape(key)+".json")
}

func (p *FilePersister) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(p.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (p *FilePersister) Set(key string, value []byte) error {
	return os.WriteFile(p.path(key), value, 0o644)
}

func (p *FilePersister) Remove(key string) error {
	err := os.Remove(p.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// persistWrite encodes val and writes it through. Persistence failures are
// logged and reported to extensions, never surfaced to callers.
func (c *Client) persistWrite(key string, val any, encode func(any) ([]byte, error)) {
	if c.persister == nil || encode == nil {
		return
	}
	data, err := encode(val)
	if err != nil {
		c.logger.Warn("requery: persist encode failed", "key", key, "error", err)
		c.emitPersistError(key, "encode", err)
		return
	}
	if err := c.persister.Set(key, data); err != nil {
		c.logger.Warn("requery: persist write failed", "key", key, "error", err)
		c.emitPersistError(key, "set", err)
	}
}

func (c *Client) persistRemove(key string) {
	if c.persister == nil {
		return
	}
	if err := c.persister.Remove(key); err != nil {
		c.logger.Warn("requery: persist remove failed", "key", key, "error", err)
		c.emitPersistError(key, "remove", err)
	}
}

// seedEntry loads persisted bytes for e, called at Define before any
// execution can start. Seeded data displays as Success but stays marked
// stale, so the next trigger executes and refreshes it in the background.
func (c *Client) seedEntry(e *entry) {
	if c.persister == nil {
		return
	}
	raw, ok := c.persister.Get(e.key)
	if !ok {
		return
	}

	e.mu.Lock()
	decode := e.decode
	if decode == nil || e.hasData {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	val, err := decode(raw)
	if err != nil {
		c.logger.Warn("requery: persist decode failed", "key", e.key, "error", err)
		c.emitPersistError(e.key, "decode", err)
		return
	}

	e.mu.Lock()
	if e.hasData || e.inFlight {
		e.mu.Unlock()
		return
	}
	e.data = val
	e.hasData = true
	e.err = nil
	e.fetched = true
	e.invalidated = true
	if e.status != StatusDisabled {
		e.status = StatusSuccess
	}
	e.lastSettle = c.clock.Now()
	snap := e.snapshotLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	notify(subs, snap)
}
