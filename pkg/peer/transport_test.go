package peer_test

import (
	"context"
	"io"
	"testing"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/common"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/peer"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/webrtc_ext"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newFactory(t *testing.T) *peer.Factory {
	t.Helper()

	connections, err := webrtc_ext.NewPeerConnectionFactory(
		webrtc_ext.Config{}, codec.DefaultCatalog(), codec.AllowedHeaderExtensions)
	require.NoError(t, err)

	return peer.NewFactory(connections, testLogger())
}

// SDP offer of a browser-like client that sends and receives audio and video.
func clientOffer(t *testing.T) string {
	t.Helper()

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)
	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
	require.NoError(t, err)

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(offer))

	return offer.SDP
}

func newTransport(t *testing.T, factory *peer.Factory, router media.Router, participantID string) *peer.Transport {
	t.Helper()

	events := make(chan common.Message[string, peer.Event], 16)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-events:
			case <-done:
				return
			}
		}
	}()

	transport, answer, err := factory.Negotiate(router, participantID, clientOffer(t), common.NewSink(participantID, events))
	require.NoError(t, err)
	require.NotNil(t, answer)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	t.Cleanup(func() {
		_ = transport.Close()
		close(done)
	})
	return transport
}

func capabilities() []media.CodecCapability {
	return codec.NewResolver(codec.DefaultCatalog(), nil).Codecs(nil)
}

func videoOptions(ssrc webrtc.SSRC) media.ProducerOptions {
	return media.ProducerOptions{
		Kind: media.KindVideo,
		RTPParameters: media.RTPParameters{
			Codecs:    codec.ProducerCodecs(capabilities(), media.KindVideo),
			Encodings: []media.Encoding{{SSRC: ssrc, RTXSSRC: ssrc + 1, CodecPayloadType: 102}},
		},
		AppData: map[string]string{"user_id": "a"},
	}
}

func TestNegotiate_ForeignRouter(t *testing.T) {
	factory := newFactory(t)

	_, _, err := factory.Negotiate(fakeRouter{}, "a", "", nil)
	assert.ErrorIs(t, err, peer.ErrForeignRouter)
}

func TestProduce_InvalidParameters(t *testing.T) {
	factory := newFactory(t)
	router, err := factory.NewRouter("room")
	require.NoError(t, err)
	transport := newTransport(t, factory, router, "a")

	missingSSRC := videoOptions(0)
	_, err = transport.Produce(context.Background(), missingSSRC)
	assert.ErrorIs(t, err, peer.ErrInvalidParameters)

	unknownPayloadType := videoOptions(1234)
	unknownPayloadType.RTPParameters.Encodings[0].CodecPayloadType = 42
	_, err = transport.Produce(context.Background(), unknownPayloadType)
	assert.ErrorIs(t, err, peer.ErrInvalidParameters)

	wrongKind := videoOptions(1234)
	wrongKind.Kind = media.KindAudio
	_, err = transport.Produce(context.Background(), wrongKind)
	assert.ErrorIs(t, err, peer.ErrInvalidParameters)
}

func TestProduce_RegistersWithRouter(t *testing.T) {
	factory := newFactory(t)
	router, err := factory.NewRouter("room")
	require.NoError(t, err)
	transport := newTransport(t, factory, router, "a")

	producer, err := transport.Produce(context.Background(), videoOptions(1234))
	require.NoError(t, err)
	assert.Equal(t, media.KindVideo, producer.Kind())

	registered, found := router.(*peer.Router).Producer(producer.ID())
	require.True(t, found)
	assert.Equal(t, "a", registered.UserID())

	_, err = transport.Produce(context.Background(), videoOptions(1234))
	assert.ErrorIs(t, err, peer.ErrInvalidParameters, "the SSRC is already produced")

	require.NoError(t, producer.Close())
	require.NoError(t, producer.Close())
	assert.Equal(t, 0, router.(*peer.Router).ProducerCount())
}

func TestConsume(t *testing.T) {
	factory := newFactory(t)
	router, err := factory.NewRouter("room")
	require.NoError(t, err)
	publisher := newTransport(t, factory, router, "a")
	subscriber := newTransport(t, factory, router, "b")

	producer, err := publisher.Produce(context.Background(), videoOptions(1234))
	require.NoError(t, err)

	handle, err := subscriber.Consume(context.Background(), media.ConsumerOptions{
		ProducerID:      producer.ID(),
		RTPCapabilities: media.RTPCapabilities{Codecs: capabilities()},
		Paused:          true,
		AppData:         map[string]string{"user_id": "a"},
	})
	require.NoError(t, err)

	consumer := handle.(*peer.Consumer)
	assert.Equal(t, producer.ID(), consumer.ProducerID())
	assert.Equal(t, media.KindVideo, consumer.Kind())
	assert.True(t, consumer.Paused())

	encoding, found := media.FirstEncoding(consumer)
	require.True(t, found)
	assert.NotZero(t, encoding.SSRC)
	assert.EqualValues(t, 102, encoding.CodecPayloadType)

	require.NoError(t, consumer.Resume(context.Background()))
	assert.False(t, consumer.Paused())

	// Closing the producer closes the consumers bound to it.
	require.NoError(t, producer.Close())
	assert.ErrorIs(t, consumer.Resume(context.Background()), media.ErrClosed)
	require.NoError(t, consumer.Close())
}

func TestConsume_Failures(t *testing.T) {
	factory := newFactory(t)
	router, err := factory.NewRouter("room")
	require.NoError(t, err)
	publisher := newTransport(t, factory, router, "a")
	subscriber := newTransport(t, factory, router, "b")

	_, err = subscriber.Consume(context.Background(), media.ConsumerOptions{ProducerID: "missing"})
	assert.ErrorIs(t, err, peer.ErrProducerNotFound)

	producer, err := publisher.Produce(context.Background(), videoOptions(1234))
	require.NoError(t, err)

	vp8, err := codec.NewCatalog("VP8")
	require.NoError(t, err)

	_, err = subscriber.Consume(context.Background(), media.ConsumerOptions{
		ProducerID:      producer.ID(),
		RTPCapabilities: media.RTPCapabilities{Codecs: vp8.Capabilities()},
	})
	assert.ErrorIs(t, err, peer.ErrIncompatibleCapabilities)
}

func TestTransport_Close(t *testing.T) {
	factory := newFactory(t)
	router, err := factory.NewRouter("room")
	require.NoError(t, err)
	transport := newTransport(t, factory, router, "a")

	producer, err := transport.Produce(context.Background(), videoOptions(1234))
	require.NoError(t, err)

	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())

	_, found := router.(*peer.Router).Producer(producer.ID())
	assert.False(t, found)

	_, err = transport.Produce(context.Background(), videoOptions(5678))
	assert.ErrorIs(t, err, media.ErrClosed)
}

func TestRouter_CloseClosesProducers(t *testing.T) {
	factory := newFactory(t)
	router, err := factory.NewRouter("room")
	require.NoError(t, err)
	transport := newTransport(t, factory, router, "a")

	_, err = transport.Produce(context.Background(), videoOptions(1234))
	require.NoError(t, err)

	require.NoError(t, router.Close())
	assert.Equal(t, 0, router.(*peer.Router).ProducerCount())

	_, err = transport.Produce(context.Background(), videoOptions(5678))
	assert.ErrorIs(t, err, media.ErrClosed)
}

type fakeRouter struct{}

func (fakeRouter) ID() string   { return "fake" }
func (fakeRouter) Close() error { return nil }
