package codec

import (
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/sdp/v3"
	"github.com/thoas/go-funk"
)

const (
	RepairedRTPStreamIDURI = "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id"
	FrameMarkingDraftURI   = "http://tools.ietf.org/html/draft-ietf-avtext-framemarking-07"
	FrameMarkingURI        = "urn:ietf:params:rtp-hdrext:framemarking"
	VideoOrientationURI    = "urn:3gpp:video-orientation"
	TimeOffsetURI          = "urn:ietf:params:rtp-hdrext:toffset"
	AbsCaptureTimeURI      = "http://www.webrtc.org/experiments/rtp-hdrext/abs-capture-time"
	PlayoutDelayURI        = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
)

// Header extensions a room accepts, in the order they are reported back.
var AllowedHeaderExtensions = []string{
	sdp.SDESMidURI,
	sdp.SDESRTPStreamIDURI,
	RepairedRTPStreamIDURI,
	FrameMarkingDraftURI,
	FrameMarkingURI,
	sdp.AudioLevelURI,
	VideoOrientationURI,
	TimeOffsetURI,
	sdp.TransportCCURI,
	sdp.ABSSendTimeURI,
	AbsCaptureTimeURI,
	PlayoutDelayURI,
}

// Extensions forwarded on a video producer, all of them are timing or congestion control related.
var VideoProducerHeaderExtensions = []string{
	PlayoutDelayURI,
	sdp.ABSSendTimeURI,
	TimeOffsetURI,
	sdp.TransportCCURI,
}

// FilterHeaderExtensions keeps the offered extensions whose URI is allowed. The result follows the
// order of the allow-list, and a URI offered more than once is kept only once (first offer wins).
func FilterHeaderExtensions(offered []media.HeaderExtension, allowList []string) []media.HeaderExtension {
	filtered := []media.HeaderExtension{}
	for _, uri := range allowList {
		for _, extension := range offered {
			if extension.URI == uri {
				filtered = append(filtered, extension)
				break
			}
		}
	}

	return filtered
}

// VideoProducerExtensions picks the extensions that are forwarded when producing video.
func VideoProducerExtensions(accepted []media.HeaderExtension) []media.HeaderExtension {
	extensions := []media.HeaderExtension{}
	for _, extension := range accepted {
		if funk.ContainsString(VideoProducerHeaderExtensions, extension.URI) {
			extensions = append(extensions, extension)
		}
	}

	return extensions
}

// ConsumerExtensions re-tags the accepted extensions with the kind that is being consumed.
func ConsumerExtensions(accepted []media.HeaderExtension, kind media.Kind) []media.CapabilityHeaderExtension {
	extensions := make([]media.CapabilityHeaderExtension, 0, len(accepted))
	for _, extension := range accepted {
		extensions = append(extensions, media.CapabilityHeaderExtension{
			Kind:        kind,
			URI:         extension.URI,
			PreferredID: extension.ID,
		})
	}

	return extensions
}
