package peer

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Router is the producer registry of a room: consumers created on any transport of the room look
// up the producers they are bound to here.
type Router struct {
	id     string
	logger *logrus.Entry

	mu        sync.Mutex
	producers map[string]*Producer
	closed    bool
}

func NewRouter(id string, logger *logrus.Entry) *Router {
	return &Router{
		id:        id,
		logger:    logger.WithField("router_id", id),
		producers: make(map[string]*Producer),
	}
}

func (r *Router) ID() string {
	return r.id
}

func (r *Router) Producer(id string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	producer, found := r.producers[id]
	return producer, found
}

func (r *Router) ProducerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.producers)
}

func (r *Router) register(producer *Producer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	r.producers[producer.id] = producer
	return true
}

func (r *Router) unregister(producer *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.producers[producer.id] == producer {
		delete(r.producers, producer.id)
	}
}

// Close closes every producer that is still registered. Idempotent.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	producers := make([]*Producer, 0, len(r.producers))
	for _, producer := range r.producers {
		producers = append(producers, producer)
	}
	r.mu.Unlock()

	for _, producer := range producers {
		_ = producer.Close()
	}

	r.logger.Debug("router closed")
	return nil
}
