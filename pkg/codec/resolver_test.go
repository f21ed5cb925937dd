package codec_test

import (
	"fmt"
	"testing"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) *codec.Resolver {
	t.Helper()
	return codec.NewResolver(codec.DefaultCatalog(), nil)
}

func TestResolver_OverridesMatchedPayloadType(t *testing.T) {
	resolver := newResolver(t)

	capabilities := resolver.Codecs([]codec.Offered{{Name: "opus", Type: "audio", Priority: 1000, PayloadType: 96}})
	require.Len(t, capabilities, 3)

	audio, video, rtx := capabilities[0], capabilities[1], capabilities[2]
	assert.Equal(t, media.KindAudio, audio.Kind)
	assert.EqualValues(t, 96, audio.PreferredPayloadType)
	assert.EqualValues(t, 102, video.PreferredPayloadType)
	assert.EqualValues(t, 103, rtx.PreferredPayloadType)
	assert.Equal(t, "102", rtx.Parameters["apt"])
}

func TestResolver_MatchIsCaseInsensitive(t *testing.T) {
	resolver := newResolver(t)

	capabilities := resolver.Codecs([]codec.Offered{
		{Name: "OPUS", Type: "audio", PayloadType: 109},
		{Name: "h264", Type: "video", PayloadType: 125, RTXPayloadType: 126},
	})

	assert.EqualValues(t, 109, capabilities[0].PreferredPayloadType)
	assert.EqualValues(t, 125, capabilities[1].PreferredPayloadType)
	assert.EqualValues(t, 126, capabilities[2].PreferredPayloadType)
	assert.Equal(t, "125", capabilities[2].Parameters["apt"])
}

func TestResolver_NearMissNamesDoNotMatch(t *testing.T) {
	resolver := newResolver(t)

	capabilities := resolver.Codecs([]codec.Offered{
		{Name: "H264-SVC", Type: "video", PayloadType: 120},
		{Name: "opus/48000", Type: "audio", PayloadType: 100},
	})

	assert.EqualValues(t, codec.DefaultAudioPayloadType, capabilities[0].PreferredPayloadType)
	assert.EqualValues(t, codec.DefaultVideoPayloadType, capabilities[1].PreferredPayloadType)
}

func TestResolver_OfferedRTXTakesPrecedence(t *testing.T) {
	resolver := newResolver(t)

	capabilities := resolver.Codecs([]codec.Offered{
		{Name: "H264", Type: "video", PayloadType: 98, RTXPayloadType: 99},
		{Name: "rtx", Type: "video", PayloadType: 97},
	})

	assert.EqualValues(t, 97, capabilities[2].PreferredPayloadType)
	assert.Equal(t, "98", capabilities[2].Parameters["apt"])
}

func TestResolver_RTXAvoidsTakenPayloadTypes(t *testing.T) {
	resolver := newResolver(t)

	capabilities := resolver.Codecs([]codec.Offered{{Name: "H264", Type: "video", PayloadType: 103}})
	assert.EqualValues(t, 103, capabilities[1].PreferredPayloadType)
	assert.EqualValues(t, 104, capabilities[2].PreferredPayloadType)
	assert.Equal(t, "103", capabilities[2].Parameters["apt"])

	capabilities = resolver.Codecs([]codec.Offered{
		{Name: "opus", Type: "audio", PayloadType: 127},
		{Name: "H264", Type: "video", PayloadType: 103},
		{Name: "rtx", Type: "video", PayloadType: 127},
	})
	assert.EqualValues(t, 96, capabilities[2].PreferredPayloadType)
	assert.Equal(t, "103", capabilities[2].Parameters["apt"])
}

func TestResolver_DoesNotMutateCatalog(t *testing.T) {
	catalog := codec.DefaultCatalog()
	resolver := codec.NewResolver(catalog, nil)

	resolver.Codecs([]codec.Offered{{Name: "H264", PayloadType: 127}})

	assert.Equal(t, "102", resolver.Catalog().RTX.Parameters["apt"])
	assert.EqualValues(t, 102, resolver.Catalog().Video.PreferredPayloadType)
}

func TestNewCatalog_UnsupportedVideoCodec(t *testing.T) {
	_, err := codec.NewCatalog("AV1")
	assert.ErrorIs(t, err, codec.ErrUnsupportedVideoCodec)

	catalog, err := codec.NewCatalog("vp8")
	require.NoError(t, err)
	assert.Equal(t, "VP8", catalog.Video.Name())
}

func TestFilterHeaderExtensions_KeepsAllowListOrder(t *testing.T) {
	offered := []media.HeaderExtension{}
	for i := 0; i < 10; i++ {
		offered = append(offered, media.HeaderExtension{URI: fmt.Sprintf("urn:example:ext:%d", i), ID: 20 + i})
	}

	// Five allowed extensions, offered in the reverse of the allow-list order.
	offered = append(offered,
		media.HeaderExtension{URI: codec.PlayoutDelayURI, ID: 5},
		media.HeaderExtension{URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", ID: 4},
		media.HeaderExtension{URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", ID: 3},
		media.HeaderExtension{URI: "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id", ID: 2},
		media.HeaderExtension{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
	)
	require.Len(t, offered, 15)

	filtered := newResolver(t).HeaderExtensions(offered)

	assert.Equal(t, []media.HeaderExtension{
		{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
		{URI: "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id", ID: 2},
		{URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", ID: 3},
		{URI: "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time", ID: 4},
		{URI: codec.PlayoutDelayURI, ID: 5},
	}, filtered)
}

func TestFilterHeaderExtensions_Empty(t *testing.T) {
	assert.Empty(t, codec.FilterHeaderExtensions(nil, codec.AllowedHeaderExtensions))
}

func TestVideoProducerExtensions(t *testing.T) {
	accepted := []media.HeaderExtension{
		{URI: "urn:ietf:params:rtp-hdrext:sdes:mid", ID: 1},
		{URI: codec.TimeOffsetURI, ID: 2},
		{URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", ID: 3},
		{URI: codec.VideoOrientationURI, ID: 4},
	}

	assert.Equal(t, []media.HeaderExtension{
		{URI: codec.TimeOffsetURI, ID: 2},
		{URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", ID: 3},
	}, codec.VideoProducerExtensions(accepted))
}

func TestProducerCodecs(t *testing.T) {
	capabilities := newResolver(t).Codecs([]codec.Offered{{Name: "H264", PayloadType: 96}})

	video := codec.ProducerCodecs(capabilities, media.KindVideo)
	require.Len(t, video, 2)
	assert.EqualValues(t, 96, video[0].PayloadType)
	assert.Equal(t, codec.MimeTypeRTX, video[1].MimeType)
	assert.Equal(t, "96", video[1].Parameters["apt"])

	assert.EqualValues(t, 96, codec.PrimaryPayloadType(capabilities, media.KindVideo))
	assert.EqualValues(t, 111, codec.PrimaryPayloadType(capabilities, media.KindAudio))
	assert.EqualValues(t, 111, codec.PrimaryPayloadType(nil, media.KindAudio))
}
