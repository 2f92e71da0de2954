// Package workerpool runs a fixed-size pool of goroutines supervised by a
// tomb.Tomb, each pulling tasks off a shared channel until the tomb dies.
package workerpool

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const defaultTaskChanSize = 256

// Func processes a single task. Any error returned is fatal to the worker
// goroutine that returned it (the tomb propagates it and begins dying).
type Func = func(t *tomb.Tomb, task any) error

// Pool is a bounded pool of workers pulling from a shared task channel.
type Pool struct {
	n     int
	tasks chan any
}

// New creates a pool with n workers and a buffered task channel.
func New(n int) Pool {
	return Pool{
		n:     n,
		tasks: make(chan any, defaultTaskChanSize),
	}
}

// AddTask enqueues a task for a worker to pick up. Blocks if the queue is full.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Setup starts n workers under t, each running work for every task it receives.
// Setup blocks until t starts dying.
func (p *Pool) Setup(t *tomb.Tomb, work Func) {
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.worker(t, work)
		})
	}
	<-t.Dying()
}

// worker loops pulling tasks until the tomb dies or work returns an error.
func (p *Pool) worker(t *tomb.Tomb, work Func) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting on error")
				return err
			}
		}
	}
}
