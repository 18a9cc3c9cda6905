package pool

import (
	"github.com/joshsymonds/ferry/config"
)

// Command is a single unit of transfer work (an upload, a download, a
// deletion) that the pool schedules onto a borrowed connection.
// Commands must be pointer values: the pool tracks them by reference
// identity, so two distinct commands with equal contents are still two
// commands.
type Command interface {
	// Execute performs the command against the bound connection.
	// A non-nil error marks the attempt as failed; the runner retries
	// exactly once before giving up.
	Execute() error

	// Running reports whether the command still has asynchronous work
	// in flight after Execute returns. The runner polls it until false
	// before releasing the connection.
	Running() bool

	// SetConnection binds a borrowed connection before execution.
	SetConnection(conn Connection)

	// Name returns a stable display name used in trace output.
	Name() string
}

// Connection is an opaque live session to a remote endpoint. The pool
// owns connections exclusively; commands borrow one for the duration of
// a single execution.
type Connection interface {
	Close() error
}

// ConnectionFactory opens new connections for the pool.
// Open may return zero or more connections per call. A factory whose
// remote end refuses further sessions must return an error satisfying
// IsTooManyConnections; the pool backs off and retries. Any other error
// aborts the dispatch attempt.
type ConnectionFactory interface {
	Open(cfg *config.Connection) ([]Connection, error)
}

// FactoryFunc adapts a function to the ConnectionFactory interface.
type FactoryFunc func(cfg *config.Connection) ([]Connection, error)

// Open implements ConnectionFactory.
func (f FactoryFunc) Open(cfg *config.Connection) ([]Connection, error) {
	return f(cfg)
}

// ConfigLoader maps a caller-supplied raw settings object into the
// connection configuration the factory expects.
type ConfigLoader interface {
	Load(raw config.Raw) (*config.Connection, error)
}

// LoaderFunc adapts a function to the ConfigLoader interface.
type LoaderFunc func(raw config.Raw) (*config.Connection, error)

// Load implements ConfigLoader.
func (f LoaderFunc) Load(raw config.Raw) (*config.Connection, error) {
	return f(raw)
}
