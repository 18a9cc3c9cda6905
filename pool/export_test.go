package pool

import "github.com/joshsymonds/ferry/config"

// Fill exposes the connection fill step to tests.
func (p *Pool) Fill(raw config.Raw) error {
	return p.fill(raw)
}

// DrainFree empties the free set, simulating a pool whose connections
// are all bound to running commands.
func (p *Pool) DrainFree() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = nil
}
