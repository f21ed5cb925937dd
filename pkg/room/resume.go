package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/sirupsen/logrus"
)

const resumeTimeout = 5 * time.Second

// Delayed resumption of paused consumers. Pending resumes are keyed by consumer ID so that
// they can be cancelled once the consumer is gone.
type resumeScheduler struct {
	delay  time.Duration
	logger *logrus.Entry

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func newResumeScheduler(delay time.Duration, logger *logrus.Entry) *resumeScheduler {
	return &resumeScheduler{
		delay:  delay,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

func (r *resumeScheduler) schedule(consumer media.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	id := consumer.ID()
	if previous, found := r.timers[id]; found {
		previous.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		if r.timers[id] != timer {
			r.mu.Unlock()
			return
		}
		delete(r.timers, id)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
		defer cancel()

		logger := r.logger.WithField("consumer_id", id)
		if err := consumer.Resume(ctx); err != nil {
			if errors.Is(err, media.ErrClosed) {
				logger.Debug("consumer is gone before it could be resumed")
			} else {
				logger.WithError(err).Debug("failed to resume consumer")
			}
			return
		}

		logger.Debug("consumer resumed")
	})
	r.timers[id] = timer
}

func (r *resumeScheduler) cancel(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timer, found := r.timers[consumerID]; found {
		timer.Stop()
		delete(r.timers, consumerID)
	}
}

func (r *resumeScheduler) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.timers)
}

// Cancels all pending resumes, nothing can be scheduled afterwards.
func (r *resumeScheduler) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	r.closed = true
}
