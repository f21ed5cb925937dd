package common

import (
	"errors"
	"sync"
	"time"
)

// Errors that may occur when sending tasks to a worker.
var (
	ErrWorkerClosed  = errors.New("worker is closed")
	ErrWorkerTooBusy = errors.New("worker is already overloaded")
)

// Configuration for the worker.
type WorkerConfig[T any] struct {
	// The size of the bounded channel.
	ChannelSize int
	// Timeout after which `OnTimeout` is called if no task arrived in the meantime.
	Timeout time.Duration
	// Called once `Timeout` is reached.
	OnTimeout func()
	// Called for every task, tasks are processed one at a time in the order they were sent.
	OnTask func(T)
	// Called once, after the last task has been processed and the worker is stopped.
	OnStop func()
}

// Worker owns a bounded task queue drained by a single goroutine.
type Worker[T any] struct {
	channel chan<- T
	done    <-chan struct{}
	mutex   sync.Mutex
	closed  bool
}

// Stop the worker unless already stopped. Tasks that are already queued are still processed.
func (w *Worker[T]) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.closed {
		close(w.channel)
		w.closed = true
	}
}

// Done is closed once the worker goroutine has returned.
func (w *Worker[T]) Done() <-chan struct{} {
	return w.done
}

// Send a task to the worker without blocking.
func (w *Worker[T]) Send(task T) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return ErrWorkerClosed
	}

	select {
	case w.channel <- task:
		return nil
	default:
		return ErrWorkerTooBusy
	}
}

// Starts a worker that executes `c.OnTimeout` each time no task has been received for `c.Timeout`.
// The worker stops once `Stop` is called.
func StartWorker[T any](c WorkerConfig[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)
	done := make(chan struct{})

	go func() {
		defer close(done)

		if c.OnStop != nil {
			defer c.OnStop()
		}

		timer := time.NewTimer(c.Timeout)
		defer timer.Stop()

		for {
			select {
			case task, ok := <-incoming:
				if !ok {
					return
				}

				c.OnTask(task)

				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(c.Timeout)
			case <-timer.C:
				c.OnTimeout()
				timer.Reset(c.Timeout)
			}
		}
	}()

	return &Worker[T]{channel: incoming, done: done}
}
