package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/webrtc/v3"
)

// Payload types used when the client did not propose one for the codec.
const (
	DefaultAudioPayloadType webrtc.PayloadType = 111
	DefaultVideoPayloadType webrtc.PayloadType = 102
	DefaultRTXPayloadType   webrtc.PayloadType = 103
)

// Range of payload types that may be assigned dynamically.
const (
	minDynamicPayloadType webrtc.PayloadType = 96
	maxDynamicPayloadType webrtc.PayloadType = 127
)

const MimeTypeRTX = "video/rtx"

var ErrUnsupportedVideoCodec = errors.New("unsupported primary video codec")

// The fixed set of codecs a room routes: one audio codec, one primary video codec
// and the retransmission companion of the video codec.
type Catalog struct {
	Audio media.CodecCapability
	Video media.CodecCapability
	RTX   media.CodecCapability
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: webrtc.TypeRTCPFBNACK},
	{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
	{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
	{Type: webrtc.TypeRTCPFBGoogREMB},
	{Type: webrtc.TypeRTCPFBTransportCC},
}

// DefaultCatalog returns the catalog with Opus and H264.
func DefaultCatalog() Catalog {
	catalog, _ := NewCatalog("H264")
	return catalog
}

// NewCatalog builds a catalog around the given primary video codec (H264, VP8 or VP9).
func NewCatalog(videoCodec string) (Catalog, error) {
	video := media.CodecCapability{
		Kind:                 media.KindVideo,
		ClockRate:            90000,
		RTCPFeedback:         videoFeedback,
		PreferredPayloadType: DefaultVideoPayloadType,
	}

	switch strings.ToUpper(videoCodec) {
	case "H264":
		video.MimeType = webrtc.MimeTypeH264
		video.Parameters = media.CodecSpecificParameters{
			"packetization-mode":      "1",
			"profile-level-id":        "42e01f",
			"level-asymmetry-allowed": "1",
		}
	case "VP8":
		video.MimeType = webrtc.MimeTypeVP8
	case "VP9":
		video.MimeType = webrtc.MimeTypeVP9
		video.Parameters = media.CodecSpecificParameters{"profile-id": "0"}
	default:
		return Catalog{}, fmt.Errorf("%w: %q", ErrUnsupportedVideoCodec, videoCodec)
	}

	return Catalog{
		Audio: media.CodecCapability{
			Kind:      media.KindAudio,
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBTransportCC},
			},
			PreferredPayloadType: DefaultAudioPayloadType,
		},
		Video: video,
		RTX: media.CodecCapability{
			Kind:                 media.KindVideo,
			MimeType:             MimeTypeRTX,
			ClockRate:            90000,
			Parameters:           media.CodecSpecificParameters{"apt": fmt.Sprint(DefaultVideoPayloadType)},
			PreferredPayloadType: DefaultRTXPayloadType,
		},
	}, nil
}

// Capabilities lists the catalog entries in their canonical order.
func (c Catalog) Capabilities() []media.CodecCapability {
	return []media.CodecCapability{c.Audio, c.Video, c.RTX}
}
