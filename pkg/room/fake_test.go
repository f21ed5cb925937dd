package room_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/webrtc/v3"
)

var (
	handleCounter atomic.Int64
	producerKinds sync.Map
)

func nextHandleID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, handleCounter.Add(1))
}

// In-memory media provider recording every call. Produce and Consume can be held back with a gate
// to simulate calls that are still pending while the room changes.
type fakeTransport struct {
	mu           sync.Mutex
	producerOpts []media.ProducerOptions
	consumerOpts []media.ConsumerOptions
	consumers    []*fakeConsumer
	produceErr   error
	consumeErr   error
	gate         chan struct{}
	entered      chan struct{}
	closed       atomic.Int32
	nextSSRC     uint32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextSSRC: 1000}
}

// Makes the following Produce/Consume calls block until the returned function is called.
func (t *fakeTransport) hold() (entered <-chan struct{}, release func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gate = make(chan struct{})
	t.entered = make(chan struct{}, 16)
	gate := t.gate

	var once sync.Once
	return t.entered, func() { once.Do(func() { close(gate) }) }
}

func (t *fakeTransport) wait(ctx context.Context) error {
	t.mu.Lock()
	gate, entered := t.gate, t.entered
	t.mu.Unlock()

	if gate == nil {
		return nil
	}

	entered <- struct{}{}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *fakeTransport) Produce(ctx context.Context, options media.ProducerOptions) (media.Producer, error) {
	t.mu.Lock()
	t.producerOpts = append(t.producerOpts, options)
	err := t.produceErr
	t.mu.Unlock()

	if waitErr := t.wait(ctx); waitErr != nil {
		return nil, waitErr
	}

	if err != nil {
		return nil, err
	}

	id := nextHandleID("producer")
	producerKinds.Store(id, options.Kind)

	return &fakeProducer{id: id, kind: options.Kind}, nil
}

func (t *fakeTransport) Consume(ctx context.Context, options media.ConsumerOptions) (media.Consumer, error) {
	t.mu.Lock()
	t.consumerOpts = append(t.consumerOpts, options)
	err := t.consumeErr
	t.nextSSRC += 2
	ssrc := t.nextSSRC
	t.mu.Unlock()

	if waitErr := t.wait(ctx); waitErr != nil {
		return nil, waitErr
	}

	if err != nil {
		return nil, err
	}

	kind, found := producerKinds.Load(options.ProducerID)
	if !found {
		return nil, fmt.Errorf("unknown producer %s", options.ProducerID)
	}

	consumer := &fakeConsumer{
		id:         nextHandleID("consumer"),
		producerID: options.ProducerID,
		kind:       kind.(media.Kind),
		paused:     options.Paused,
		encoding:   media.Encoding{SSRC: webrtc.SSRC(ssrc), RTXSSRC: webrtc.SSRC(ssrc + 1)},
	}

	t.mu.Lock()
	t.consumers = append(t.consumers, consumer)
	t.mu.Unlock()

	return consumer, nil
}

func (t *fakeTransport) Close() error {
	t.closed.Add(1)
	return nil
}

func (t *fakeTransport) produceCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.producerOpts)
}

func (t *fakeTransport) consumeCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.consumerOpts)
}

func (t *fakeTransport) lastProducerOptions() media.ProducerOptions {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.producerOpts[len(t.producerOpts)-1]
}

func (t *fakeTransport) lastConsumerOptions() media.ConsumerOptions {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.consumerOpts[len(t.consumerOpts)-1]
}

func (t *fakeTransport) createdConsumers() []*fakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*fakeConsumer(nil), t.consumers...)
}

type fakeProducer struct {
	id     string
	kind   media.Kind
	closed atomic.Int32
}

func (p *fakeProducer) ID() string       { return p.id }
func (p *fakeProducer) Kind() media.Kind { return p.kind }

func (p *fakeProducer) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeConsumer struct {
	id         string
	producerID string
	kind       media.Kind
	encoding   media.Encoding

	mu      sync.Mutex
	paused  bool
	resumes int
	closed  atomic.Int32
}

func (c *fakeConsumer) ID() string         { return c.id }
func (c *fakeConsumer) ProducerID() string { return c.producerID }
func (c *fakeConsumer) Kind() media.Kind   { return c.kind }

func (c *fakeConsumer) RTPParameters() media.RTPParameters {
	return media.RTPParameters{Encodings: []media.Encoding{c.encoding}}
}

func (c *fakeConsumer) Resume(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resumes++
	if c.closed.Load() > 0 {
		return media.ErrClosed
	}

	c.paused = false
	return nil
}

// Closing twice reports the handle as already closed, the room must tolerate it.
func (c *fakeConsumer) Close() error {
	if c.closed.Add(1) > 1 {
		return media.ErrClosed
	}

	return nil
}

func (c *fakeConsumer) isPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paused
}

func (c *fakeConsumer) resumeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resumes
}

type fakeRouter struct {
	id     string
	closed atomic.Int32
}

func (r *fakeRouter) ID() string { return r.id }

func (r *fakeRouter) Close() error {
	r.closed.Add(1)
	return nil
}
