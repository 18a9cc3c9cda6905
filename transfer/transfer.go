// Package transfer provides concrete transfer commands and a
// connection factory for the pool. A billy filesystem stands in for the
// remote endpoint, so the same commands run against any filesystem
// implementation (an in-memory one in tests).
package transfer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"

	"github.com/joshsymonds/ferry/config"
	"github.com/joshsymonds/ferry/pool"
)

// Compile-time interface checks.
var (
	_ pool.Connection        = (*Conn)(nil)
	_ pool.ConnectionFactory = (*Factory)(nil)
)

// Conn is one session against a remote filesystem. Closing it returns
// the session slot to its factory; closing twice is harmless.
type Conn struct {
	remote  billy.Filesystem
	release func()
	closed  atomic.Bool
}

// Remote returns the filesystem this session is bound to.
func (c *Conn) Remote() billy.Filesystem {
	return c.remote
}

// Close implements pool.Connection.
func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) && c.release != nil {
		c.release()
	}
	return nil
}

// Factory opens sessions against a single remote filesystem, enforcing
// the remote's session cap. Opening beyond the cap fails with the
// transient "too many connections" condition so the pool backs off and
// retries once a session is released.
type Factory struct {
	remote billy.Filesystem

	mu   sync.Mutex
	cap  int
	open int
}

// NewFactory creates a factory for the given remote. A cap of zero
// means the remote accepts any number of sessions.
func NewFactory(remote billy.Filesystem, sessionCap int) *Factory {
	return &Factory{remote: remote, cap: sessionCap}
}

// Open implements pool.ConnectionFactory. A per-target connection limit
// in the config overrides the factory's cap.
func (f *Factory) Open(cfg *config.Connection) ([]pool.Connection, error) {
	f.mu.Lock()
	limit := f.cap
	if cfg != nil && cfg.ConnectionLimit > 0 {
		limit = cfg.ConnectionLimit
	}
	if limit > 0 && f.open >= limit {
		open := f.open
		f.mu.Unlock()
		return nil, &pool.TooManyConnectionsError{
			Err: fmt.Errorf("%d sessions already open", open),
		}
	}
	f.open++
	f.mu.Unlock()

	return []pool.Connection{&Conn{remote: f.remote, release: f.release}}, nil
}

// OpenSessions returns the number of sessions currently open.
func (f *Factory) OpenSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.open
}

func (f *Factory) release() {
	f.mu.Lock()
	f.open--
	f.mu.Unlock()
}
