package daemon

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/runvault/pkg/runvault/session"
)

func TestPool_SpawnAndDrain(t *testing.T) {
	t.Parallel()

	p := newPool(2)
	assert.True(t, p.available())

	p.spawn("/run/a", func() (session.Result, error) {
		return session.Result{RunID: "aaaa0001", FilesPublished: 3}, nil
	})
	p.spawn("/run/b", func() (session.Result, error) {
		return session.Result{RunID: "bbbb0002"}, errors.New("boom")
	})
	assert.False(t, p.available())

	results := make(map[string]completion)
	p.drain(func(c completion) { results[c.path] = c })

	require.Len(t, results, 2)
	assert.Equal(t, 3, results["/run/a"].result.FilesPublished)
	assert.NoError(t, results["/run/a"].err)
	assert.Error(t, results["/run/b"].err)
	assert.True(t, p.available())
}

func TestPool_PanicIsolation(t *testing.T) {
	t.Parallel()

	p := newPool(1)
	p.spawn("/run/a", func() (session.Result, error) {
		panic("session blew up")
	})

	var got completion
	p.drain(func(c completion) { got = c })

	require.Error(t, got.err)
	assert.Contains(t, got.err.Error(), "worker panic")
	assert.Contains(t, got.err.Error(), "session blew up")
}

func TestPool_ReapIsNonBlocking(t *testing.T) {
	t.Parallel()

	p := newPool(1)

	// Nothing finished: reap must return immediately.
	done := make(chan struct{})
	go func() {
		p.reap(func(completion) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reap blocked with no completions")
	}

	block := make(chan struct{})
	p.spawn("/run/a", func() (session.Result, error) {
		<-block
		return session.Result{}, nil
	})
	assert.False(t, p.available())

	// Worker still running: reap handles nothing and does not wait.
	handled := 0
	p.reap(func(completion) { handled++ })
	assert.Equal(t, 0, handled)

	close(block)
	p.drain(func(completion) { handled++ })
	assert.Equal(t, 1, handled)
}

func TestNewPool_MinimumOfOneSlot(t *testing.T) {
	t.Parallel()

	p := newPool(0)
	assert.Equal(t, 1, p.max)
	assert.True(t, p.available())
}
