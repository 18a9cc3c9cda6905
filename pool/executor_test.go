package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCommand is a minimal scripted command for runner tests.
type stubCommand struct {
	mu         sync.Mutex
	failures   int
	executions int
	polls      int
	pollsSeen  int
}

func (c *stubCommand) Execute() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.executions++
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("attempt %d failed", c.executions)
	}
	return nil
}

func (c *stubCommand) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.polls > 0 {
		c.polls--
		c.pollsSeen++
		return true
	}
	return false
}

func (c *stubCommand) SetConnection(Connection) {}

func (c *stubCommand) Name() string { return "stub" }

func (c *stubCommand) counts() (executions, pollsSeen int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.executions, c.pollsSeen
}

// runnerHarness wires a runner to counters for its callbacks.
type runnerHarness struct {
	mu       sync.Mutex
	finishes int
	retries  int
	failures []error
}

func (h *runnerHarness) newRunner(cmd Command) *runner {
	return &runner{
		cmd:  cmd,
		id:   1,
		poll: time.Millisecond,
		onFinish: func(Command) {
			h.mu.Lock()
			h.finishes++
			h.mu.Unlock()
		},
		onFailure: func(_ Command, _ int64, err error) {
			h.mu.Lock()
			h.failures = append(h.failures, err)
			h.mu.Unlock()
		},
		onRetry: func() {
			h.mu.Lock()
			h.retries++
			h.mu.Unlock()
		},
		trace: func(string, ...any) {},
	}
}

func TestRunner_SuccessWithoutRetry(t *testing.T) {
	cmd := &stubCommand{}
	h := &runnerHarness{}

	h.newRunner(cmd).run()

	executions, _ := cmd.counts()
	assert.Equal(t, 1, executions, "success must not invoke retry logic")
	assert.Equal(t, 1, h.finishes, "finish callback must fire exactly once")
	assert.Equal(t, 0, h.retries)
	assert.Empty(t, h.failures)
}

func TestRunner_RetriesOnceThenSucceeds(t *testing.T) {
	cmd := &stubCommand{failures: 1}
	h := &runnerHarness{}

	h.newRunner(cmd).run()

	executions, _ := cmd.counts()
	assert.Equal(t, 2, executions)
	assert.Equal(t, 1, h.retries)
	assert.Equal(t, 1, h.finishes)
	assert.Empty(t, h.failures, "a successful retry is not a failure")
}

func TestRunner_ReportsFailureAfterRetry(t *testing.T) {
	cmd := &stubCommand{failures: 2}
	h := &runnerHarness{}

	h.newRunner(cmd).run()

	executions, _ := cmd.counts()
	assert.Equal(t, 2, executions, "exactly one retry, never more")
	assert.Equal(t, 1, h.finishes, "finish still fires after an unrecoverable failure")
	require.Len(t, h.failures, 1)
	assert.Contains(t, h.failures[0].Error(), "attempt 2 failed")
}

func TestRunner_FinalizationWaitsForCompletion(t *testing.T) {
	cmd := &stubCommand{polls: 3}
	h := &runnerHarness{}

	h.newRunner(cmd).run()

	_, pollsSeen := cmd.counts()
	assert.Equal(t, 3, pollsSeen, "runner must poll until the command goes quiet")
	assert.Equal(t, 1, h.finishes)
}

func TestRunner_FinishSafeFromConcurrentRunners(t *testing.T) {
	h := &runnerHarness{}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.newRunner(&stubCommand{}).run()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, h.finishes)
}
