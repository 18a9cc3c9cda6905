package transfer_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/ferry/config"
	"github.com/joshsymonds/ferry/pool"
	"github.com/joshsymonds/ferry/transfer"
)

// TestPoolDrivesTransfers runs real transfer commands through the pool
// against an in-memory remote whose session cap matches the pool limit.
func TestPoolDrivesTransfers(t *testing.T) {
	local := memfs.New()
	remote := memfs.New()
	factory := transfer.NewFactory(remote, 2)

	p, err := pool.New(pool.PoolConfig{
		Limit:             2,
		Factory:           factory,
		Loader:            pool.LoaderFunc(config.Load),
		PollInterval:      time.Millisecond,
		FillRetryInterval: time.Millisecond,
		TooManyBackoff:    5 * time.Millisecond,
	})
	require.NoError(t, err)

	raw := config.Raw{"host": "remote.test"}

	uploads := make([]*transfer.Upload, 0, 5)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("file-%d.txt", i)
		writeFile(t, local, name, fmt.Sprintf("content %d", i))

		up := transfer.NewUpload(local, name, "incoming/"+name)
		uploads = append(uploads, up)
		require.NoError(t, p.AddCommand(up, raw))
	}

	require.Eventually(t, p.Empty, 5*time.Second, time.Millisecond)

	for i, up := range uploads {
		require.NoError(t, up.Err(), "%s must have succeeded", up.Name())
		assert.Equal(t, fmt.Sprintf("content %d", i), readFile(t, remote, fmt.Sprintf("incoming/file-%d.txt", i)))
	}

	stats := p.Stats()
	assert.LessOrEqual(t, stats.Connections, 3, "connection growth stays within limit+1")
	assert.Equal(t, int64(5), stats.Executed)

	// Follow-up commands reuse the same sessions.
	down := transfer.NewDownload(local, "incoming/file-0.txt", "restored/file-0.txt")
	require.NoError(t, p.AddCommand(down, raw))
	del := transfer.NewDelete("incoming/file-4.txt")
	require.NoError(t, p.AddCommand(del, raw))

	require.Eventually(t, p.Empty, 5*time.Second, time.Millisecond)
	require.NoError(t, down.Err())
	require.NoError(t, del.Err())
	assert.Equal(t, "content 0", readFile(t, local, "restored/file-0.txt"))
	_, statErr := remote.Stat("incoming/file-4.txt")
	require.Error(t, statErr)

	p.Close()
	assert.Equal(t, 0, factory.OpenSessions(), "teardown returns every session")
}

// TestPoolRecoversFromSessionCapPressure starts with the remote already
// saturated: the pool's fill must back off until a session frees up.
func TestPoolRecoversFromSessionCapPressure(t *testing.T) {
	local := memfs.New()
	remote := memfs.New()
	factory := transfer.NewFactory(remote, 1)

	// An out-of-band session holds the only slot for a while.
	held, err := factory.Open(nil)
	require.NoError(t, err)

	p, err := pool.New(pool.PoolConfig{
		Limit:             1,
		Factory:           factory,
		Loader:            pool.LoaderFunc(config.Load),
		PollInterval:      time.Millisecond,
		FillRetryInterval: time.Millisecond,
		TooManyBackoff:    2 * time.Millisecond,
	})
	require.NoError(t, err)

	writeFile(t, local, "a.txt", "a")
	up := transfer.NewUpload(local, "a.txt", "a.txt")

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = held[0].Close()
	}()

	// AddCommand blocks until the held session is released and the
	// factory finally hands out a connection.
	require.NoError(t, p.AddCommand(up, config.Raw{"host": "remote.test"}))

	require.Eventually(t, p.Empty, 5*time.Second, time.Millisecond)
	require.NoError(t, up.Err())
	assert.Equal(t, "a", readFile(t, remote, "a.txt"))
}
