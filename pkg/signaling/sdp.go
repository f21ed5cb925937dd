package signaling

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

var ErrInvalidSDP = errors.New("invalid SDP")

// ParseOffer extracts the codecs and header extensions a client proposes in its SDP offer. Codecs are
// listed in the order of the media formats, the position in this order is the priority.
func ParseOffer(raw string) ([]codec.Offered, []media.HeaderExtension, error) {
	var description sdp.SessionDescription
	if err := description.Unmarshal([]byte(raw)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidSDP, err)
	}

	offered := []codec.Offered{}
	extensions := []media.HeaderExtension{}

	for _, section := range description.MediaDescriptions {
		kind, err := media.ParseKind(section.MediaName.Media)
		if err != nil {
			continue
		}

		names := map[webrtc.PayloadType]string{}
		associated := map[webrtc.PayloadType]webrtc.PayloadType{}

		for _, attribute := range section.Attributes {
			switch attribute.Key {
			case "rtpmap":
				payloadType, value, ok := splitPayloadType(attribute.Value)
				if ok {
					names[payloadType] = strings.SplitN(value, "/", 2)[0]
				}
			case "fmtp":
				payloadType, value, ok := splitPayloadType(attribute.Value)
				if !ok {
					continue
				}
				for _, parameter := range strings.Split(value, ";") {
					key, apt, found := strings.Cut(strings.TrimSpace(parameter), "=")
					if !found || key != "apt" {
						continue
					}
					if primary, err := strconv.ParseUint(apt, 10, 8); err == nil {
						associated[payloadType] = webrtc.PayloadType(primary)
					}
				}
			case sdp.AttrKeyExtMap:
				var extension sdp.ExtMap
				if err := extension.Unmarshal(attribute.String()); err != nil || extension.URI == nil {
					continue
				}
				extensions = appendExtension(extensions, media.HeaderExtension{
					URI: extension.URI.String(),
					ID:  extension.Value,
				})
			}
		}

		for _, format := range section.MediaName.Formats {
			payloadType, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}

			// Retransmission codecs are reported on the codec they protect.
			name, found := names[webrtc.PayloadType(payloadType)]
			if !found || strings.EqualFold(name, "rtx") {
				continue
			}

			offered = append(offered, codec.Offered{
				Name:        name,
				Type:        string(kind),
				Priority:    len(offered),
				PayloadType: webrtc.PayloadType(payloadType),
			})
		}

		// The first retransmission format listed for a codec wins.
		for _, format := range section.MediaName.Formats {
			payloadType, err := strconv.ParseUint(format, 10, 8)
			if err != nil {
				continue
			}

			rtx := webrtc.PayloadType(payloadType)
			primary, found := associated[rtx]
			if !found {
				continue
			}

			for i := range offered {
				if offered[i].Type == string(kind) && offered[i].PayloadType == primary && offered[i].RTXPayloadType == 0 {
					offered[i].RTXPayloadType = rtx
					break
				}
			}
		}
	}

	return offered, extensions, nil
}

// Splits "<payload type> <rest>" as found in rtpmap and fmtp attributes.
func splitPayloadType(value string) (webrtc.PayloadType, string, bool) {
	prefix, rest, found := strings.Cut(value, " ")
	if !found {
		return 0, "", false
	}

	payloadType, err := strconv.ParseUint(prefix, 10, 8)
	if err != nil {
		return 0, "", false
	}

	return webrtc.PayloadType(payloadType), strings.TrimSpace(rest), true
}

// The same extension is usually announced in every media section.
func appendExtension(extensions []media.HeaderExtension, extension media.HeaderExtension) []media.HeaderExtension {
	for _, existing := range extensions {
		if existing.URI == extension.URI {
			return extensions
		}
	}

	return append(extensions, extension)
}
