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

package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/common"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/webrtc_ext"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

var (
	ErrCantCreatePeerConnection   = errors.New("can't create peer connection")
	ErrCantSetRemoteDescription   = errors.New("can't set remote description")
	ErrCantCreateAnswer           = errors.New("can't create answer")
	ErrCantSetLocalDescription    = errors.New("can't set local description")
	ErrCantCreateLocalDescription = errors.New("can't create local description")
	ErrCantAddTrack               = errors.New("can't add track")
	ErrInvalidParameters          = errors.New("invalid RTP parameters")
	ErrProducerNotFound           = errors.New("producer not found")
	ErrIncompatibleCapabilities   = errors.New("consumer can't receive the codec of the producer")
	ErrForeignRouter              = errors.New("router was not created by this provider")
)

// Factory creates transports backed by pion peer connections.
type Factory struct {
	connections *webrtc_ext.PeerConnectionFactory
	logger      *logrus.Entry
}

func NewFactory(connections *webrtc_ext.PeerConnectionFactory, logger *logrus.Entry) *Factory {
	return &Factory{connections: connections, logger: logger}
}

// NewRouter creates the producer registry of a room.
func (f *Factory) NewRouter(roomID string) (media.Router, error) {
	return NewRouter(roomID, f.logger.WithField("room_id", roomID)), nil
}

// Negotiate creates a transport for the participant from the client's SDP offer and returns it
// along with the SDP answer.
func (f *Factory) Negotiate(
	router media.Router,
	participantID string,
	sdpOffer string,
	sink *common.SinkWithSender[string, Event],
) (*Transport, *webrtc.SessionDescription, error) {
	scoped, ok := router.(*Router)
	if !ok {
		return nil, nil, ErrForeignRouter
	}

	logger := f.logger.WithFields(logrus.Fields{"room_id": scoped.id, "user_id": participantID})

	peerConnection, err := f.connections.CreatePeerConnection()
	if err != nil {
		logger.WithError(err).Error("failed to create peer connection")
		return nil, nil, ErrCantCreatePeerConnection
	}

	transport := newTransport(scoped, participantID, peerConnection, sink, logger)

	answer, err := transport.ProcessSDPOffer(sdpOffer)
	if err != nil {
		_ = transport.Close()
		return nil, nil, err
	}

	return transport, answer, nil
}

// Transport is the peer connection of a single client. Tracks sent by the client become producers,
// consumers are added as local tracks, each addition or removal triggers a renegotiation.
type Transport struct {
	id             string
	participantID  string
	router         *Router
	peerConnection *webrtc.PeerConnection
	sink           *common.SinkWithSender[string, Event]
	logger         *logrus.Entry

	mu sync.Mutex
	// Remote tracks keyed by SSRC that no producer has claimed yet.
	unclaimed map[webrtc.SSRC]*webrtc.TrackRemote
	// Producers keyed by SSRC.
	producers map[webrtc.SSRC]*Producer
	consumers map[string]*Consumer
	closed    bool
}

func newTransport(
	router *Router,
	participantID string,
	peerConnection *webrtc.PeerConnection,
	sink *common.SinkWithSender[string, Event],
	logger *logrus.Entry,
) *Transport {
	id := uuid.NewString()

	transport := &Transport{
		id:             id,
		participantID:  participantID,
		router:         router,
		peerConnection: peerConnection,
		sink:           sink,
		logger:         logger.WithField("transport_id", id),
		unclaimed:      make(map[webrtc.SSRC]*webrtc.TrackRemote),
		producers:      make(map[webrtc.SSRC]*Producer),
		consumers:      make(map[string]*Consumer),
	}

	peerConnection.OnTrack(transport.onRtpTrackReceived)
	peerConnection.OnICECandidate(transport.onICECandidateGathered)
	peerConnection.OnNegotiationNeeded(transport.onNegotiationNeeded)
	peerConnection.OnICEConnectionStateChange(transport.onICEConnectionStateChanged)
	peerConnection.OnConnectionStateChange(transport.onConnectionStateChanged)
	peerConnection.OnSignalingStateChange(transport.onSignalingStateChanged)

	return transport
}

func (t *Transport) ID() string {
	return t.id
}

// Produce registers a producer for the stream with the SSRC of the first encoding. The stream
// does not have to be flowing yet, it is attached once the track arrives.
func (t *Transport) Produce(ctx context.Context, options media.ProducerOptions) (media.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validateProducerOptions(options); err != nil {
		return nil, err
	}

	ssrc := options.RTPParameters.Encodings[0].SSRC
	id := uuid.NewString()

	producer := &Producer{
		id:         id,
		kind:       options.Kind,
		ssrc:       ssrc,
		parameters: options.RTPParameters,
		appData:    options.AppData,
		transport:  t,
		logger:     t.logger.WithFields(logrus.Fields{"producer_id": id, "kind": options.Kind, "ssrc": ssrc}),
		consumers:  make(map[string]*Consumer),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, media.ErrClosed
	}

	if _, found := t.producers[ssrc]; found {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: SSRC %d is already produced", ErrInvalidParameters, ssrc)
	}

	track := t.unclaimed[ssrc]
	delete(t.unclaimed, ssrc)
	t.producers[ssrc] = producer
	t.mu.Unlock()

	if !t.router.register(producer) {
		t.forgetProducer(producer)
		return nil, media.ErrClosed
	}

	if track != nil {
		producer.attach(track)
	}

	producer.logger.Info("producer created")
	return producer, nil
}

// Consume adds a local track fed by the producer to the peer connection.
func (t *Transport) Consume(ctx context.Context, options media.ConsumerOptions) (media.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	producer, found := t.router.Producer(options.ProducerID)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrProducerNotFound, options.ProducerID)
	}

	codec, found := producer.codec()
	if !found || !canReceive(options.RTPCapabilities, producer.kind, codec) {
		return nil, fmt.Errorf("%w: %s", ErrIncompatibleCapabilities, codec.MimeType)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(codec.RTPCodecCapability(), id, producer.UserID())
	if err != nil {
		return nil, fmt.Errorf("failed to create local track: %w", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, media.ErrClosed
	}
	t.mu.Unlock()

	sender, err := t.peerConnection.AddTrack(track)
	if err != nil {
		t.logger.WithError(err).Error("failed to add track")
		return nil, ErrCantAddTrack
	}

	consumer := &Consumer{
		id:         id,
		producer:   producer,
		transport:  t,
		track:      track,
		sender:     sender,
		parameters: consumerParameters(sender, codec, options),
		appData:    options.AppData,
		logger: t.logger.WithFields(logrus.Fields{
			"consumer_id": id,
			"producer_id": producer.id,
			"kind":        producer.kind,
		}),
	}
	consumer.paused.Store(options.Paused)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, media.ErrClosed
	}
	t.consumers[id] = consumer
	t.mu.Unlock()

	if !producer.addConsumer(consumer) {
		_ = consumer.Close()
		return nil, fmt.Errorf("%w: %s", ErrProducerNotFound, options.ProducerID)
	}

	go consumer.readRTCP()

	consumer.logger.WithField("paused", options.Paused).Info("consumer created")
	return consumer, nil
}

// Applies the SDP offer received from the client and generates an SDP answer.
func (t *Transport) ProcessSDPOffer(sdpOffer string) (*webrtc.SessionDescription, error) {
	err := t.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpOffer,
	})
	if err != nil {
		t.logger.WithError(err).Error("failed to set remote description")
		return nil, ErrCantSetRemoteDescription
	}

	answer, err := t.peerConnection.CreateAnswer(nil)
	if err != nil {
		t.logger.WithError(err).Error("failed to create answer")
		return nil, ErrCantCreateAnswer
	}

	if err := t.peerConnection.SetLocalDescription(answer); err != nil {
		t.logger.WithError(err).Error("failed to set local description")
		return nil, ErrCantSetLocalDescription
	}

	sdpAnswer := t.peerConnection.LocalDescription()
	if sdpAnswer == nil {
		t.logger.Error("could not generate a local description")
		return nil, ErrCantCreateLocalDescription
	}

	return sdpAnswer, nil
}

// Processes the SDP answer the client sent for a renegotiation offer.
func (t *Transport) ProcessSDPAnswer(sdpAnswer string) error {
	err := t.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
	if err != nil {
		t.logger.WithError(err).Error("failed to set remote description")
		return ErrCantSetRemoteDescription
	}

	return nil
}

func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := t.peerConnection.AddICECandidate(candidate); err != nil {
		t.logger.WithError(err).Error("failed to add ICE candidate")
		return err
	}

	return nil
}

// Close the transport with all its producers and consumers. From this moment on, no events are sent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	producers := make([]*Producer, 0, len(t.producers))
	for _, producer := range t.producers {
		producers = append(producers, producer)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, consumer := range t.consumers {
		consumers = append(consumers, consumer)
	}
	t.mu.Unlock()

	for _, consumer := range consumers {
		_ = consumer.Close()
	}
	for _, producer := range producers {
		_ = producer.Close()
	}

	t.sink.Seal()

	if err := t.peerConnection.Close(); err != nil {
		t.logger.WithError(err).Error("failed to close peer connection")
		return err
	}

	t.logger.Info("transport closed")
	return nil
}

func (t *Transport) forgetProducer(producer *Producer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.producers[producer.ssrc] == producer {
		delete(t.producers, producer.ssrc)
	}
}

// Removes the consumer's track from the peer connection unless the connection is being closed.
func (t *Transport) removeConsumer(consumer *Consumer) {
	t.mu.Lock()
	delete(t.consumers, consumer.id)
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return
	}

	if err := t.peerConnection.RemoveTrack(consumer.sender); err != nil &&
		!errors.Is(err, webrtc.ErrConnectionClosed) {
		t.logger.WithError(err).Warn("failed to remove track")
	}
}

func validateProducerOptions(options media.ProducerOptions) error {
	if !options.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidParameters, options.Kind)
	}

	if len(options.RTPParameters.Encodings) == 0 || options.RTPParameters.Encodings[0].SSRC == 0 {
		return fmt.Errorf("%w: missing SSRC", ErrInvalidParameters)
	}

	encoding := options.RTPParameters.Encodings[0]
	for _, codec := range options.RTPParameters.Codecs {
		if codec.PayloadType == encoding.CodecPayloadType {
			if !strings.HasPrefix(strings.ToLower(codec.MimeType), string(options.Kind)+"/") {
				return fmt.Errorf("%w: codec %s does not match kind %s", ErrInvalidParameters, codec.MimeType, options.Kind)
			}
			return nil
		}
	}

	return fmt.Errorf("%w: no codec with payload type %d", ErrInvalidParameters, encoding.CodecPayloadType)
}

func canReceive(capabilities media.RTPCapabilities, kind media.Kind, codec media.CodecParameters) bool {
	for _, capability := range capabilities.Codecs {
		if capability.Kind == kind &&
			strings.EqualFold(capability.MimeType, codec.MimeType) &&
			capability.ClockRate == codec.ClockRate {
			return true
		}
	}

	return false
}

// Parameters of the consumer as seen by the subscriber: the codecs it advertised for the kind and
// the SSRCs the sender was assigned.
func consumerParameters(
	sender *webrtc.RTPSender,
	codec media.CodecParameters,
	options media.ConsumerOptions,
) media.RTPParameters {
	parameters := media.RTPParameters{}

	for _, capability := range options.RTPCapabilities.Codecs {
		if strings.EqualFold(capability.MimeType, codec.MimeType) {
			parameters.Codecs = append(parameters.Codecs, media.CodecParameters{
				MimeType:     capability.MimeType,
				PayloadType:  capability.PreferredPayloadType,
				ClockRate:    capability.ClockRate,
				Channels:     capability.Channels,
				RTCPFeedback: capability.RTCPFeedback,
				Parameters:   capability.Parameters.Clone(),
			})
		}
	}

	for _, extension := range options.RTPCapabilities.HeaderExtensions {
		parameters.HeaderExtensions = append(parameters.HeaderExtensions, media.HeaderExtension{
			URI: extension.URI,
			ID:  extension.PreferredID,
		})
	}

	for _, encoding := range sender.GetParameters().Encodings {
		var payloadType webrtc.PayloadType
		if len(parameters.Codecs) > 0 {
			payloadType = parameters.Codecs[0].PayloadType
		}

		parameters.Encodings = append(parameters.Encodings, media.Encoding{
			SSRC:             encoding.SSRC,
			RTXSSRC:          encoding.RTX.SSRC,
			CodecPayloadType: payloadType,
		})
	}

	return parameters
}
