package daemon

import (
	"fmt"

	"github.com/jamesainslie/runvault/pkg/runvault/session"
)

// completion is delivered on the pool's done channel when a worker exits.
type completion struct {
	path   string
	result session.Result
	err    error
}

// pool is a bounded set of run-session workers. The counter is only touched
// from the monitor loop; workers report back over the done channel, which the
// loop reaps without blocking.
type pool struct {
	max    int
	active int
	done   chan completion
}

func newPool(max int) *pool {
	if max <= 0 {
		max = 1
	}
	return &pool{
		max:  max,
		done: make(chan completion, max),
	}
}

// available reports whether a worker slot is free.
func (p *pool) available() bool {
	return p.active < p.max
}

// spawn starts a worker for the run path. A panicking worker must not take
// the monitor down or corrupt another run's state, so it is confined to its
// goroutine and surfaces as an error completion.
func (p *pool) spawn(path string, fn func() (session.Result, error)) {
	p.active++
	go func() {
		var c completion
		c.path = path

		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("worker panic: %v", r)
			}
			p.done <- c
		}()

		c.result, c.err = fn()
	}()
}

// reap handles any completions already waiting, without blocking.
func (p *pool) reap(handle func(completion)) {
	for {
		select {
		case c := <-p.done:
			p.active--
			handle(c)
		default:
			return
		}
	}
}

// drain blocks until every active worker has completed, handling each.
func (p *pool) drain(handle func(completion)) {
	for p.active > 0 {
		c := <-p.done
		p.active--
		handle(c)
	}
}
