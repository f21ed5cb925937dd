package room

import (
	"sync"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// A participant connected to a room. All mutable fields are guarded by the mutex of the room,
// the session itself never changes them outside of the room's operations.
type Session struct {
	participantID string
	roomID        string
	logger        *logrus.Entry

	// Mutex of the room the session belongs to, kept after the room reference is cleared.
	mu *sync.Mutex

	room      *Room
	ready     bool
	stopped   bool
	transport media.Transport

	codecs           []codec.Offered
	capabilities     []media.CodecCapability
	headerExtensions []media.HeaderExtension
	incoming         media.SSRCs

	audioProducer media.Producer
	videoProducer media.Producer
	consumers     []media.Consumer
}

func (s *Session) ParticipantID() string {
	return s.participantID
}

func (s *Session) RoomID() string {
	return s.roomID
}

// Stopped sessions have left their room, every operation on them is a no-op.
func (s *Session) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopped
}

func (s *Session) IsProducing(kind media.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.producer(kind) != nil
}

// Producer ID of the given kind, empty if the session does not produce it.
func (s *Session) ProducerID(kind media.Kind) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if producer := s.producer(kind); producer != nil {
		return producer.ID()
	}

	return ""
}

func (s *Session) ConsumerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.consumers)
}

// The helpers below expect the room mutex to be held.

func (s *Session) producer(kind media.Kind) media.Producer {
	switch kind {
	case media.KindAudio:
		return s.audioProducer
	case media.KindVideo:
		return s.videoProducer
	default:
		return nil
	}
}

func (s *Session) setProducer(kind media.Kind, producer media.Producer) {
	switch kind {
	case media.KindAudio:
		s.audioProducer = producer
	case media.KindVideo:
		s.videoProducer = producer
	}
}

func (s *Session) consumerOf(producerID string) media.Consumer {
	if idx := s.consumerIndex(producerID); idx != -1 {
		return s.consumers[idx]
	}

	return nil
}

func (s *Session) consumerIndex(producerID string) int {
	return slices.IndexFunc(s.consumers, func(consumer media.Consumer) bool {
		return consumer.ProducerID() == producerID
	})
}

// Removes every consumer bound to one of the given producers and returns them.
func (s *Session) detachConsumersOf(producerIDs ...string) []media.Consumer {
	detached := []media.Consumer{}
	kept := s.consumers[:0]
	for _, consumer := range s.consumers {
		if slices.Contains(producerIDs, consumer.ProducerID()) {
			detached = append(detached, consumer)
		} else {
			kept = append(kept, consumer)
		}
	}

	for i := len(kept); i < len(s.consumers); i++ {
		s.consumers[i] = nil
	}
	s.consumers = kept

	return detached
}

func (s *Session) producerIDs() []string {
	ids := []string{}
	for _, producer := range []media.Producer{s.audioProducer, s.videoProducer} {
		if producer != nil {
			ids = append(ids, producer.ID())
		}
	}

	return ids
}

// Incoming SSRCs with the video part masked unless video is being produced.
func (s *Session) maskedIncoming() media.SSRCs {
	ssrcs := s.incoming
	if s.videoProducer == nil {
		ssrcs.Video = 0
		ssrcs.RTX = 0
	}

	return ssrcs
}
