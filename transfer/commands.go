package transfer

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/joshsymonds/ferry/pool"
)

// Compile-time interface checks.
var (
	_ pool.Command = (*Upload)(nil)
	_ pool.Command = (*Download)(nil)
	_ pool.Command = (*Delete)(nil)
	_ pool.Command = (*Rename)(nil)
)

// dirPerm is the mode for directories created on the remote side.
const dirPerm os.FileMode = 0o755

// job is the state every transfer command shares: a unique id for
// tracing, the borrowed connection, a running flag that is true
// strictly while Execute is in progress, and the last attempt's result.
type job struct {
	id string

	mu      sync.Mutex
	conn    *Conn
	lastErr error
	running atomic.Bool
}

// SetConnection implements pool.Command.
func (j *job) SetConnection(conn pool.Connection) {
	c, _ := conn.(*Conn)

	j.mu.Lock()
	j.conn = c
	j.mu.Unlock()
}

// Running implements pool.Command.
func (j *job) Running() bool {
	return j.running.Load()
}

// Err returns the result of the most recent execution attempt.
// Callers inspect it after the pool reports completion, since the pool
// itself does not return per-command results.
func (j *job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.lastErr
}

func (j *job) remote() (billy.Filesystem, error) {
	j.mu.Lock()
	conn := j.conn
	j.mu.Unlock()

	if conn == nil {
		return nil, fmt.Errorf("no connection bound")
	}
	return conn.Remote(), nil
}

// execute wraps one attempt with the running flag and result recording.
func (j *job) execute(attempt func() error) error {
	j.running.Store(true)
	defer j.running.Store(false)

	err := attempt()

	j.mu.Lock()
	j.lastErr = err
	j.mu.Unlock()

	return err
}

func (j *job) shortID() string {
	return j.id[:8]
}

// Upload copies a file from a local filesystem to the remote.
type Upload struct {
	job
	local      billy.Filesystem
	localPath  string
	remotePath string
}

// NewUpload creates an upload of localPath on local to remotePath on
// the remote end of the bound connection.
func NewUpload(local billy.Filesystem, localPath, remotePath string) *Upload {
	return &Upload{job: job{id: uuid.NewString()}, local: local, localPath: localPath, remotePath: remotePath}
}

// Name implements pool.Command.
func (u *Upload) Name() string {
	return fmt.Sprintf("upload %s (%s)", u.remotePath, u.shortID())
}

// Execute implements pool.Command.
func (u *Upload) Execute() error {
	return u.execute(func() error {
		remote, err := u.remote()
		if err != nil {
			return err
		}
		return copyFile(u.local, u.localPath, remote, u.remotePath)
	})
}

// Download copies a file from the remote to a local filesystem.
type Download struct {
	job
	local      billy.Filesystem
	remotePath string
	localPath  string
}

// NewDownload creates a download of remotePath into localPath on local.
func NewDownload(local billy.Filesystem, remotePath, localPath string) *Download {
	return &Download{job: job{id: uuid.NewString()}, local: local, remotePath: remotePath, localPath: localPath}
}

// Name implements pool.Command.
func (d *Download) Name() string {
	return fmt.Sprintf("download %s (%s)", d.remotePath, d.shortID())
}

// Execute implements pool.Command.
func (d *Download) Execute() error {
	return d.execute(func() error {
		remote, err := d.remote()
		if err != nil {
			return err
		}
		return copyFile(remote, d.remotePath, d.local, d.localPath)
	})
}

// Delete removes a file on the remote.
type Delete struct {
	job
	remotePath string
}

// NewDelete creates a deletion of remotePath on the remote.
func NewDelete(remotePath string) *Delete {
	return &Delete{job: job{id: uuid.NewString()}, remotePath: remotePath}
}

// Name implements pool.Command.
func (d *Delete) Name() string {
	return fmt.Sprintf("delete %s (%s)", d.remotePath, d.shortID())
}

// Execute implements pool.Command.
func (d *Delete) Execute() error {
	return d.execute(func() error {
		remote, err := d.remote()
		if err != nil {
			return err
		}
		if err := remote.Remove(d.remotePath); err != nil {
			return fmt.Errorf("removing %s: %w", d.remotePath, err)
		}
		return nil
	})
}

// Rename moves a file on the remote.
type Rename struct {
	job
	fromPath string
	toPath   string
}

// NewRename creates a rename of fromPath to toPath on the remote.
func NewRename(fromPath, toPath string) *Rename {
	return &Rename{job: job{id: uuid.NewString()}, fromPath: fromPath, toPath: toPath}
}

// Name implements pool.Command.
func (r *Rename) Name() string {
	return fmt.Sprintf("rename %s -> %s (%s)", r.fromPath, r.toPath, r.shortID())
}

// Execute implements pool.Command.
func (r *Rename) Execute() error {
	return r.execute(func() error {
		remote, err := r.remote()
		if err != nil {
			return err
		}
		if dir := path.Dir(r.toPath); dir != "." && dir != "/" {
			if err := remote.MkdirAll(dir, dirPerm); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}
		}
		if err := remote.Rename(r.fromPath, r.toPath); err != nil {
			return fmt.Errorf("renaming %s: %w", r.fromPath, err)
		}
		return nil
	})
}

// copyFile streams src on srcFS into dst on dstFS, creating parent
// directories on the destination side.
func copyFile(srcFS billy.Filesystem, src string, dstFS billy.Filesystem, dst string) error {
	in, err := srcFS.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if dir := path.Dir(dst); dir != "." && dir != "/" {
		if err = dstFS.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	out, err := dstFS.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}
