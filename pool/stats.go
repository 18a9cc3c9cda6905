package pool

// Stats is a point-in-time snapshot of pool occupancy and cumulative
// activity counters.
type Stats struct {
	// Running is the number of commands currently executing.
	Running int
	// Waiting is the number of admitted commands not yet started.
	Waiting int
	// Connections is the number of live connections ever created.
	Connections int
	// Free is the number of connections not bound to a command.
	Free int

	// Executed counts commands dispatched to a runner.
	Executed int64
	// Retried counts first-attempt failures that triggered a retry.
	Retried int64
	// Failed counts commands that failed even after their retry.
	Failed int64
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Running:     len(p.running),
		Waiting:     len(p.waiting),
		Connections: len(p.connections),
		Free:        len(p.free),
	}
	p.mu.Unlock()

	s.Executed = p.totalExecuted.Load()
	s.Retried = p.totalRetried.Load()
	s.Failed = p.totalFailed.Load()
	return s
}
