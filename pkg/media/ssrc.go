package media

import "github.com/pion/webrtc/v3"

// The SSRC triple describing the streams of a single client. Zero means "no stream".
type SSRCs struct {
	Audio webrtc.SSRC `json:"audio_ssrc"`
	Video webrtc.SSRC `json:"video_ssrc"`
	RTX   webrtc.SSRC `json:"rtx_ssrc"`
}

// First encoding of a consumer, if any.
func FirstEncoding(consumer Consumer) (Encoding, bool) {
	if consumer == nil {
		return Encoding{}, false
	}

	encodings := consumer.RTPParameters().Encodings
	if len(encodings) == 0 {
		return Encoding{}, false
	}

	return encodings[0], true
}
