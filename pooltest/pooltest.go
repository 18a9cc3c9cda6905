// Package pooltest provides in-memory fakes for the pool's
// collaborator interfaces, so pool scheduling logic can be tested
// without real network I/O.
package pooltest

import (
	"fmt"
	"sync"

	"github.com/joshsymonds/ferry/config"
	"github.com/joshsymonds/ferry/pool"
)

// Compile-time checks to ensure fakes implement their interfaces.
var (
	_ pool.Command           = (*Command)(nil)
	_ pool.Connection        = (*Connection)(nil)
	_ pool.ConnectionFactory = (*Factory)(nil)
	_ pool.ConfigLoader      = (*Loader)(nil)
)

// Journal records events from multiple fakes in order, so tests can
// assert on scheduling order across commands.
type Journal struct {
	mu     sync.Mutex
	events []string
}

// Record appends an event.
func (j *Journal) Record(event string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, event)
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]string, len(j.events))
	copy(out, j.events)
	return out
}

// Command is a scripted fake transfer command.
type Command struct {
	name    string
	journal *Journal

	mu         sync.Mutex
	failures   int
	runPolls   int
	executions int
	conn       pool.Connection
	block      chan struct{}

	// ExecuteFunc allows tests to provide custom execute behavior. When
	// set it overrides the scripted failure behavior.
	ExecuteFunc func() error
}

// NewCommand creates a fake command that succeeds immediately.
func NewCommand(name string) *Command {
	return &Command{name: name}
}

// FailTimes makes the next n Execute calls fail.
func (c *Command) FailTimes(n int) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures = n
	return c
}

// RunningPolls makes Running report true for the next n polls.
func (c *Command) RunningPolls(n int) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runPolls = n
	return c
}

// WithJournal records execution events to a shared journal.
func (c *Command) WithJournal(j *Journal) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.journal = j
	return c
}

// Block makes Execute wait until Release is called.
func (c *Command) Block() *Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.block = make(chan struct{})
	return c
}

// Release unblocks a blocked Execute. Safe to call once per Block.
func (c *Command) Release() {
	c.mu.Lock()
	block := c.block
	c.block = nil
	c.mu.Unlock()

	if block != nil {
		close(block)
	}
}

// Execute implements pool.Command.
func (c *Command) Execute() error {
	c.mu.Lock()
	c.executions++
	journal := c.journal
	block := c.block
	fn := c.ExecuteFunc
	fail := c.failures > 0
	if fail {
		c.failures--
	}
	c.mu.Unlock()

	if journal != nil {
		journal.Record("execute " + c.name)
	}

	if block != nil {
		<-block
	}

	if fn != nil {
		return fn()
	}
	if fail {
		return fmt.Errorf("transfer %s failed", c.name)
	}
	return nil
}

// Running implements pool.Command.
func (c *Command) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runPolls > 0 {
		c.runPolls--
		return true
	}
	return false
}

// SetConnection implements pool.Command.
func (c *Command) SetConnection(conn pool.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
}

// Name implements pool.Command.
func (c *Command) Name() string {
	return c.name
}

// Executions returns how many times Execute was called.
func (c *Command) Executions() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.executions
}

// Connection returns the connection last bound to the command.
func (c *Command) Connection() pool.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn
}

// Connection is a fake pool.Connection that counts closes.
type Connection struct {
	ID int

	mu       sync.Mutex
	closes   int
	closeErr error
}

// Close implements pool.Connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	return c.closeErr
}

// Closes returns how many times Close was called.
func (c *Connection) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closes
}

// FailClose makes Close return the given error.
func (c *Connection) FailClose(err error) *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeErr = err
	return c
}

// Factory is a scripted fake connection factory.
type Factory struct {
	mu        sync.Mutex
	batchSize int
	refusals  int
	openErr   error
	nextID    int
	opened    []*Connection
	calls     int
}

// NewFactory creates a factory producing one connection per Open call.
func NewFactory() *Factory {
	return &Factory{batchSize: 1}
}

// BatchSize sets how many connections each Open call returns.
func (f *Factory) BatchSize(n int) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchSize = n
	return f
}

// RefuseTimes makes the next n Open calls fail with the transient
// "too many connections" condition.
func (f *Factory) RefuseTimes(n int) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refusals = n
	return f
}

// FailWith makes every Open call fail with err until cleared with nil.
func (f *Factory) FailWith(err error) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.openErr = err
	return f
}

// Open implements pool.ConnectionFactory.
func (f *Factory) Open(_ *config.Connection) ([]pool.Connection, error) {
	f.mu.Lock()
	f.calls++

	if f.openErr != nil {
		err := f.openErr
		f.mu.Unlock()
		return nil, err
	}
	if f.refusals > 0 {
		f.refusals--
		f.mu.Unlock()
		return nil, &pool.TooManyConnectionsError{Err: fmt.Errorf("server refused session")}
	}

	batch := make([]pool.Connection, 0, f.batchSize)
	for i := 0; i < f.batchSize; i++ {
		f.nextID++
		conn := &Connection{ID: f.nextID}
		f.opened = append(f.opened, conn)
		batch = append(batch, conn)
	}
	f.mu.Unlock()

	return batch, nil
}

// Calls returns how many times Open was called.
func (f *Factory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// Opened returns every connection the factory ever created.
func (f *Factory) Opened() []*Connection {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*Connection, len(f.opened))
	copy(out, f.opened)
	return out
}

// Loader is a fake config loader returning a fixed connection config.
type Loader struct {
	mu      sync.Mutex
	cfg     *config.Connection
	loadErr error
	calls   int
}

// NewLoader creates a loader returning cfg for every raw input.
func NewLoader(cfg *config.Connection) *Loader {
	return &Loader{cfg: cfg}
}

// FailWith makes Load fail with err until cleared with nil.
func (l *Loader) FailWith(err error) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.loadErr = err
	return l
}

// Load implements pool.ConfigLoader.
func (l *Loader) Load(_ config.Raw) (*config.Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	return l.cfg, nil
}

// Calls returns how many times Load was called.
func (l *Loader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.calls
}
