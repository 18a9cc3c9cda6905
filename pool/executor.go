package pool

import (
	"log/slog"
	"time"
)

// runner executes a single command on its own goroutine: one attempt,
// one retry on failure, then a guaranteed finalization phase that waits
// for the command to go quiet and reports completion exactly once.
type runner struct {
	cmd       Command
	id        int64
	poll      time.Duration
	onFinish  func(Command)
	onFailure func(Command, int64, error)
	onRetry   func()
	trace     func(msg string, args ...any)
}

// run executes the command. The finalization step is deferred so the
// finish callback fires even when the retry fails: the connection is
// always returned and queued work always wakes up.
func (r *runner) run() {
	defer r.finalize()

	r.trace("executing", slog.Int64("executor_id", r.id), slog.String("command", r.cmd.Name()))

	err := r.cmd.Execute()
	if err == nil {
		return
	}

	r.trace("execute failed", slog.Int64("executor_id", r.id), slog.Any("error", err))
	r.trace("retrying", slog.Int64("executor_id", r.id), slog.String("command", r.cmd.Name()))
	if r.onRetry != nil {
		r.onRetry()
	}

	if err = r.cmd.Execute(); err != nil {
		r.onFailure(r.cmd, r.id, err)
	}
}

// finalize polls the command until it reports no in-flight work, then
// invokes the finish callback. Running is a poll-only contract, so this
// stays a fixed-interval wait.
func (r *runner) finalize() {
	r.trace("ending", slog.Int64("executor_id", r.id), slog.String("command", r.cmd.Name()))

	for r.cmd.Running() {
		r.trace("still running", slog.Int64("executor_id", r.id))
		time.Sleep(r.poll)
	}

	r.onFinish(r.cmd)
}
