/*
Copyright 2022 The Matrix.org Foundation C.I.C.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// A voice room: the set of sessions of one room and the producer/consumer graph between them.
// Every operation locks the room, so a room behaves as a single logical owner of its sessions
// while different rooms proceed in parallel. The lock is never held while waiting for the
// media provider, the state is re-checked once the provider returns instead.
type Room struct {
	id       string
	kind     Kind
	router   media.Router
	resolver *codec.Resolver
	config   Config

	logger    *logrus.Entry
	telemetry *telemetry.Telemetry
	resumes   *resumeScheduler

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	// Called without the lock once a leave leaves the room empty.
	onEmpty func(*Room)
}

// Offer as received from a client: the transport created for it along with what the client supports.
type Offer struct {
	Transport        media.Transport
	Codecs           []codec.Offered
	HeaderExtensions []media.HeaderExtension
}

func New(
	id string,
	kind Kind,
	router media.Router,
	resolver *codec.Resolver,
	config Config,
	logger *logrus.Entry,
) *Room {
	logger = logger.WithFields(logrus.Fields{"room_id": id, "room_kind": kind})

	return &Room{
		id:        id,
		kind:      kind,
		router:    router,
		resolver:  resolver,
		config:    config,
		logger:    logger,
		telemetry: telemetry.NewTelemetry(context.Background(), "Room", telemetry.RoomID(id)),
		resumes:   newResumeScheduler(config.VideoResumeDelay(), logger),
		sessions:  make(map[string]*Session),
	}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Kind() Kind {
	return r.kind
}

// Router the producers and consumers of this room are scoped to.
func (r *Room) Router() media.Router {
	return r.router
}

// Sorted IDs of the current participants.
func (r *Room) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		members = append(members, id)
	}
	sort.Strings(members)

	return members
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Session of the given participant, if they are in the room.
func (r *Room) Session(participantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, found := r.sessions[participantID]
	return session, found
}

// Join creates a session for the participant. A participant that joins twice replaces its previous
// session in the membership. Joining a closed room returns a session that is already stopped.
func (r *Room) Join(participantID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := &Session{
		participantID: participantID,
		roomID:        r.id,
		logger:        r.logger.WithField("user_id", participantID),
		mu:            &r.mu,
		room:          r,
		consumers:     []media.Consumer{},
	}

	if r.closed {
		session.stopped = true
		session.room = nil
		session.logger.Warn("joined a closed room")
		return session
	}

	if _, found := r.sessions[participantID]; found {
		session.logger.Info("participant joined again, replacing the previous session")
	}

	r.sessions[participantID] = session
	r.telemetry.AddEvent("joined", telemetry.UserID(participantID))
	session.logger.Info("joined the room")

	return session
}

// OnOffer stores the transport and the negotiated capabilities on the session. Returns the transport
// that the session no longer references (the replaced one, or the offered one if the session has
// stopped) so that the caller can close it. Replacing the transport releases the producers and
// consumers created on the previous one, along with the consumers other sessions have of them.
func (r *Room) OnOffer(session *Session, offer Offer) media.Transport {
	r.mu.Lock()
	if !r.owns(session) {
		r.mu.Unlock()
		return offer.Transport
	}

	previous := session.transport
	session.transport = offer.Transport
	session.codecs = offer.Codecs
	session.headerExtensions = r.resolver.HeaderExtensions(offer.HeaderExtensions)
	session.capabilities = r.resolver.Codecs(offer.Codecs)

	session.logger.WithFields(logrus.Fields{
		"codecs":            len(session.capabilities),
		"header_extensions": len(session.headerExtensions),
	}).Debug("offer processed")

	if previous == nil || previous == offer.Transport {
		r.mu.Unlock()
		return nil
	}

	consumers, producers := r.detachTransportHandles(session)
	r.mu.Unlock()

	for _, consumer := range consumers {
		closeQuietly(session.logger, "consumer", consumer)
	}
	for _, producer := range producers {
		closeQuietly(session.logger, "producer", producer)
	}

	session.logger.WithFields(logrus.Fields{
		"consumers": len(consumers),
		"producers": len(producers),
	}).Info("transport replaced")

	return previous
}

// SetReady marks whether the transport of the session is connected and may be used.
func (r *Room) SetReady(session *Session, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.owns(session) {
		return
	}

	session.ready = ready
}

// InitIncomingSSRCs records the SSRCs the client announced for its outgoing streams.
func (r *Room) InitIncomingSSRCs(session *Session, ssrcs media.SSRCs) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.owns(session) {
		return
	}

	session.incoming = ssrcs
}

// Publish creates a producer of the given kind for the session. Publishing a kind that is already
// produced, or publishing without a ready transport, does nothing. Provider failures are returned.
func (r *Room) Publish(ctx context.Context, session *Session, kind media.Kind, ssrcs media.SSRCs) error {
	r.mu.Lock()
	if !r.owns(session) || !session.ready || session.transport == nil || session.producer(kind) != nil {
		r.mu.Unlock()
		session.logger.WithField("kind", kind).Debug("publish skipped")
		return nil
	}

	transport := session.transport
	ssrcs = r.withKnownSSRCs(session, kind, ssrcs)
	options := r.producerOptions(session, kind, ssrcs)
	r.mu.Unlock()

	span := r.telemetry.CreateChild("publish", telemetry.UserID(session.participantID), telemetry.Kind(string(kind)))
	defer span.End()

	producer, err := transport.Produce(span.Bind(ctx), options)
	if err != nil {
		err = fmt.Errorf("failed to produce %s: %w", kind, err)
		session.logger.WithError(err).Error("publish failed")
		span.Fail(err)
		return err
	}

	r.mu.Lock()
	if !r.owns(session) || session.transport != transport || session.producer(kind) != nil {
		r.mu.Unlock()
		session.logger.WithField("kind", kind).Debug("session changed while producing, discarding producer")
		closeQuietly(session.logger, "producer", producer)
		return nil
	}

	session.setProducer(kind, producer)
	switch kind {
	case media.KindAudio:
		session.incoming.Audio = ssrcs.Audio
	case media.KindVideo:
		session.incoming.Video = ssrcs.Video
		session.incoming.RTX = ssrcs.RTX
	}
	r.mu.Unlock()

	span.AddEvent("published", telemetry.ProducerID(producer.ID()))
	session.logger.WithFields(logrus.Fields{"kind": kind, "producer_id": producer.ID()}).Info("published")

	return nil
}

// Unpublish closes the producer of the given kind and every consumer in the room that is bound to it.
func (r *Room) Unpublish(session *Session, kind media.Kind) {
	r.mu.Lock()
	if !r.owns(session) || session.producer(kind) == nil {
		r.mu.Unlock()
		return
	}

	producer := session.producer(kind)
	consumers := r.detachConsumersOf(producer.ID())
	session.setProducer(kind, nil)
	r.mu.Unlock()

	span := r.telemetry.CreateChild("unpublish", telemetry.UserID(session.participantID), telemetry.Kind(string(kind)))
	defer span.End()

	for _, consumer := range consumers {
		closeQuietly(session.logger, "consumer", consumer)
	}
	closeQuietly(session.logger, "producer", producer)

	session.logger.WithFields(logrus.Fields{
		"kind":        kind,
		"producer_id": producer.ID(),
		"consumers":   len(consumers),
	}).Info("unpublished")
}

// Subscribe creates a consumer of the peer's producer of the given kind. Nothing happens if the peer
// does not produce that kind or if the session already consumes it. Video consumers start paused
// and are resumed after the configured delay.
func (r *Room) Subscribe(ctx context.Context, session *Session, peerID string, kind media.Kind) error {
	logger := session.logger.WithFields(logrus.Fields{"peer_id": peerID, "kind": kind})

	r.mu.Lock()
	if !r.owns(session) || !session.ready || session.transport == nil {
		r.mu.Unlock()
		logger.Debug("subscribe skipped, transport is not ready")
		return nil
	}

	producer := r.producerOf(peerID, kind)
	if producer == nil || session.consumerOf(producer.ID()) != nil {
		r.mu.Unlock()
		logger.Debug("subscribe skipped")
		return nil
	}

	transport := session.transport
	options := media.ConsumerOptions{
		ProducerID: producer.ID(),
		RTPCapabilities: media.RTPCapabilities{
			Codecs:           append([]media.CodecCapability(nil), session.capabilities...),
			HeaderExtensions: codec.ConsumerExtensions(session.headerExtensions, kind),
		},
		Paused:  kind == media.KindVideo,
		AppData: map[string]string{"user_id": peerID},
	}
	r.mu.Unlock()

	span := r.telemetry.CreateChild("subscribe",
		telemetry.UserID(session.participantID),
		telemetry.PeerID(peerID),
		telemetry.Kind(string(kind)))
	defer span.End()

	consumer, err := transport.Consume(span.Bind(ctx), options)
	if err != nil {
		err = fmt.Errorf("failed to consume %s of %s: %w", kind, peerID, err)
		logger.WithError(err).Error("subscribe failed")
		span.Fail(err)
		return err
	}

	r.mu.Lock()
	if !r.owns(session) ||
		session.transport != transport ||
		r.producerOf(peerID, kind) != producer ||
		session.consumerOf(producer.ID()) != nil {
		r.mu.Unlock()
		logger.Debug("state changed while consuming, discarding consumer")
		closeQuietly(logger, "consumer", consumer)
		return nil
	}

	session.consumers = append(session.consumers, consumer)
	if kind == media.KindVideo {
		r.resumes.schedule(consumer)
	}
	r.mu.Unlock()

	span.AddEvent("subscribed", telemetry.ConsumerID(consumer.ID()))
	logger.WithField("consumer_id", consumer.ID()).Info("subscribed")

	return nil
}

// Unsubscribe closes the consumer of the peer's producer of the given kind, if any.
func (r *Room) Unsubscribe(session *Session, peerID string, kind media.Kind) {
	r.mu.Lock()
	if !r.owns(session) {
		r.mu.Unlock()
		return
	}

	producer := r.producerOf(peerID, kind)
	if producer == nil {
		r.mu.Unlock()
		return
	}

	idx := session.consumerIndex(producer.ID())
	if idx == -1 {
		r.mu.Unlock()
		return
	}

	consumer := session.consumers[idx]
	session.consumers = slices.Delete(session.consumers, idx, idx+1)
	r.resumes.cancel(consumer.ID())
	r.mu.Unlock()

	closeQuietly(session.logger, "consumer", consumer)
	session.logger.WithFields(logrus.Fields{"peer_id": peerID, "kind": kind}).Info("unsubscribed")
}

// IsSubscribed reports whether the session consumes the peer's current producer of the given kind.
func (r *Room) IsSubscribed(session *Session, peerID string, kind media.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.owns(session) {
		return false
	}

	producer := r.producerOf(peerID, kind)
	return producer != nil && session.consumerOf(producer.ID()) != nil
}

// IncomingSSRCs are the SSRCs the client sends to the SFU. Video and RTX are reported as zero
// unless the session produces video.
func (r *Room) IncomingSSRCs(session *Session) media.SSRCs {
	r.mu.Lock()
	defer r.mu.Unlock()

	return session.maskedIncoming()
}

// OutgoingSSRCs are the SSRCs the session receives the peer's media on, as negotiated by its consumers.
func (r *Room) OutgoingSSRCs(session *Session, peerID string) media.SSRCs {
	r.mu.Lock()
	defer r.mu.Unlock()

	ssrcs := media.SSRCs{}
	if !r.owns(session) {
		return ssrcs
	}

	if producer := r.producerOf(peerID, media.KindAudio); producer != nil {
		if encoding, found := media.FirstEncoding(session.consumerOf(producer.ID())); found {
			ssrcs.Audio = encoding.SSRC
		}
	}

	if producer := r.producerOf(peerID, media.KindVideo); producer != nil {
		if encoding, found := media.FirstEncoding(session.consumerOf(producer.ID())); found {
			ssrcs.Video = encoding.SSRC
			ssrcs.RTX = encoding.RTXSSRC
		}
	}

	return ssrcs
}

// Leave removes the session from the room and releases everything it owns. Consumers of other
// sessions bound to its producers are closed first, then its own consumers, producers and transport.
// Only the first call has an effect.
func (r *Room) Leave(session *Session) {
	r.mu.Lock()
	if session.stopped || session.room != r {
		r.mu.Unlock()
		return
	}
	session.stopped = true

	if r.sessions[session.participantID] == session {
		delete(r.sessions, session.participantID)
	}

	producerIDs := session.producerIDs()
	foreign := []media.Consumer{}
	if len(producerIDs) > 0 {
		for _, other := range r.sessions {
			if other == session {
				continue
			}
			foreign = append(foreign, other.detachConsumersOf(producerIDs...)...)
		}
	}

	own := session.consumers
	producers := []media.Producer{}
	for _, producer := range []media.Producer{session.audioProducer, session.videoProducer} {
		if producer != nil {
			producers = append(producers, producer)
		}
	}
	transport := session.transport

	for _, consumer := range append(append([]media.Consumer{}, foreign...), own...) {
		r.resumes.cancel(consumer.ID())
	}

	session.audioProducer = nil
	session.videoProducer = nil
	session.consumers = []media.Consumer{}
	session.transport = nil
	session.ready = false
	session.room = nil

	empty := len(r.sessions) == 0
	onEmpty := r.onEmpty
	r.mu.Unlock()

	span := r.telemetry.CreateChild("leave", telemetry.UserID(session.participantID))
	defer span.End()

	for _, consumer := range foreign {
		closeQuietly(session.logger, "consumer", consumer)
	}
	for _, consumer := range own {
		closeQuietly(session.logger, "consumer", consumer)
	}
	for _, producer := range producers {
		closeQuietly(session.logger, "producer", producer)
	}
	if transport != nil {
		closeQuietly(session.logger, "transport", transport)
	}

	session.logger.WithFields(logrus.Fields{
		"foreign_consumers": len(foreign),
		"own_consumers":     len(own),
		"producers":         len(producers),
	}).Info("left the room")

	if empty && onEmpty != nil {
		onEmpty(r)
	}
}

// Close makes every session leave and releases the router. The room can't be joined afterwards.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.onEmpty = nil

	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.mu.Unlock()

	for _, session := range sessions {
		r.Leave(session)
	}

	r.resumes.stop()

	if r.router != nil {
		closeQuietly(r.logger, "router", r.router)
	}

	r.telemetry.End()
	r.logger.Info("room closed")
}

func (r *Room) setOnEmpty(fn func(*Room)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.onEmpty = fn
}

// Sessions replaced by a later join of the same participant are not owned anymore, they can only leave.
// Expects the lock to be held.
func (r *Room) owns(session *Session) bool {
	return session != nil &&
		!session.stopped &&
		session.room == r &&
		r.sessions[session.participantID] == session
}

// Current producer of the given kind of a participant. Expects the lock to be held.
func (r *Room) producerOf(participantID string, kind media.Kind) media.Producer {
	peer, found := r.sessions[participantID]
	if !found {
		return nil
	}

	return peer.producer(kind)
}

// Detaches every consumer in the room bound to the producer. Expects the lock to be held.
func (r *Room) detachConsumersOf(producerID string) []media.Consumer {
	detached := []media.Consumer{}
	for _, session := range r.sessions {
		detached = append(detached, session.detachConsumersOf(producerID)...)
	}

	for _, consumer := range detached {
		r.resumes.cancel(consumer.ID())
	}

	return detached
}

// Detaches the producers and consumers of the session along with every consumer in the room bound
// to those producers. Expects the lock to be held.
func (r *Room) detachTransportHandles(session *Session) ([]media.Consumer, []media.Producer) {
	consumers := []media.Consumer{}
	producers := []media.Producer{}
	for _, producer := range []media.Producer{session.audioProducer, session.videoProducer} {
		if producer != nil {
			consumers = append(consumers, r.detachConsumersOf(producer.ID())...)
			producers = append(producers, producer)
		}
	}

	for _, consumer := range session.consumers {
		r.resumes.cancel(consumer.ID())
	}
	consumers = append(consumers, session.consumers...)

	session.audioProducer = nil
	session.videoProducer = nil
	session.consumers = []media.Consumer{}

	return consumers, producers
}

// Fills SSRCs the caller left empty with the ones announced earlier. Expects the lock to be held.
func (r *Room) withKnownSSRCs(session *Session, kind media.Kind, ssrcs media.SSRCs) media.SSRCs {
	switch kind {
	case media.KindAudio:
		if ssrcs.Audio == 0 {
			ssrcs.Audio = session.incoming.Audio
		}
	case media.KindVideo:
		if ssrcs.Video == 0 {
			ssrcs.Video = session.incoming.Video
		}
		if ssrcs.RTX == 0 {
			ssrcs.RTX = session.incoming.RTX
		}
	}

	return ssrcs
}

// Producer parameters built from the resolved capabilities of the session. Expects the lock to be held.
func (r *Room) producerOptions(session *Session, kind media.Kind, ssrcs media.SSRCs) media.ProducerOptions {
	capabilities := session.capabilities
	if len(capabilities) == 0 {
		capabilities = r.resolver.Codecs(nil)
	}

	parameters := media.RTPParameters{
		Codecs: codec.ProducerCodecs(capabilities, kind),
	}

	payloadType := codec.PrimaryPayloadType(capabilities, kind)
	switch kind {
	case media.KindAudio:
		parameters.Encodings = []media.Encoding{{
			SSRC:             ssrcs.Audio,
			CodecPayloadType: payloadType,
			MaxBitrate:       r.config.AudioMaxBitrate,
		}}
	case media.KindVideo:
		parameters.Encodings = []media.Encoding{{
			SSRC:             ssrcs.Video,
			RTXSSRC:          ssrcs.RTX,
			CodecPayloadType: payloadType,
		}}
		parameters.HeaderExtensions = codec.VideoProducerExtensions(session.headerExtensions)
	}

	return media.ProducerOptions{
		Kind:          kind,
		RTPParameters: parameters,
		Paused:        false,
		AppData:       map[string]string{"user_id": session.participantID},
	}
}

type closer interface {
	Close() error
}

// Cleanup never fails: handles that are already closed count as closed.
func closeQuietly(logger *logrus.Entry, what string, handle closer) {
	if err := handle.Close(); err != nil && !errors.Is(err, media.ErrClosed) {
		logger.WithError(err).Warnf("failed to close %s", what)
	}
}
