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

package codec

import (
	"strconv"
	"strings"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/webrtc/v3"
	"golang.org/x/exp/slices"
)

// Codec as proposed by a client in its offer.
type Offered struct {
	Name           string             `json:"name"`
	Type           string             `json:"type"`
	Priority       int                `json:"priority"`
	PayloadType    webrtc.PayloadType `json:"payload_type"`
	RTXPayloadType webrtc.PayloadType `json:"rtx_payload_type,omitempty"`
}

// Resolver derives the codec capabilities and header extensions of a single client.
type Resolver struct {
	catalog   Catalog
	allowList []string
}

func NewResolver(catalog Catalog, allowList []string) *Resolver {
	if len(allowList) == 0 {
		allowList = AllowedHeaderExtensions
	}

	return &Resolver{catalog: catalog, allowList: allowList}
}

func (r *Resolver) Catalog() Catalog {
	return r.catalog
}

func (r *Resolver) AllowList() []string {
	return r.allowList
}

// Codecs returns the catalog with the payload types the client proposed. The names are matched
// case-insensitively and exactly, anything unmatched keeps the default payload type of the entry.
// The `apt` of the retransmission codec always points at the resolved video payload type.
func (r *Resolver) Codecs(offered []Offered) []media.CodecCapability {
	audio := withPayloadType(r.catalog.Audio, DefaultAudioPayloadType)
	if match, found := findOffered(offered, r.catalog.Audio.Name()); found {
		audio.PreferredPayloadType = match.PayloadType
	}

	video := withPayloadType(r.catalog.Video, DefaultVideoPayloadType)
	rtx := withPayloadType(r.catalog.RTX, DefaultRTXPayloadType)

	videoMatch, videoFound := findOffered(offered, r.catalog.Video.Name())
	if videoFound {
		video.PreferredPayloadType = videoMatch.PayloadType
	}

	if match, found := findOffered(offered, r.catalog.RTX.Name()); found {
		rtx.PreferredPayloadType = match.PayloadType
	} else if videoFound && videoMatch.RTXPayloadType != 0 {
		rtx.PreferredPayloadType = videoMatch.RTXPayloadType
	}

	rtx.PreferredPayloadType = freePayloadType(rtx.PreferredPayloadType, audio.PreferredPayloadType, video.PreferredPayloadType)
	rtx.Parameters["apt"] = strconv.Itoa(int(video.PreferredPayloadType))

	return []media.CodecCapability{audio, video, rtx}
}

// HeaderExtensions filters the offered extensions down to the allow-list.
func (r *Resolver) HeaderExtensions(offered []media.HeaderExtension) []media.HeaderExtension {
	return FilterHeaderExtensions(offered, r.allowList)
}

func withPayloadType(capability media.CodecCapability, payloadType webrtc.PayloadType) media.CodecCapability {
	capability.PreferredPayloadType = payloadType
	capability.Parameters = capability.Parameters.Clone()
	if capability.Parameters == nil {
		capability.Parameters = media.CodecSpecificParameters{}
	}

	capability.RTCPFeedback = append([]webrtc.RTCPFeedback(nil), capability.RTCPFeedback...)

	return capability
}

// Returns wanted unless it is taken, otherwise the next dynamic payload type that is not.
func freePayloadType(wanted webrtc.PayloadType, taken ...webrtc.PayloadType) webrtc.PayloadType {
	if !slices.Contains(taken, wanted) {
		return wanted
	}

	start := wanted
	if start < minDynamicPayloadType || start > maxDynamicPayloadType {
		start = minDynamicPayloadType
	}

	span := int(maxDynamicPayloadType-minDynamicPayloadType) + 1
	for i := 0; i < span; i++ {
		candidate := minDynamicPayloadType + webrtc.PayloadType((int(start-minDynamicPayloadType)+i)%span)
		if !slices.Contains(taken, candidate) {
			return candidate
		}
	}

	return wanted
}

func findOffered(offered []Offered, name string) (Offered, bool) {
	idx := slices.IndexFunc(offered, func(codec Offered) bool {
		return strings.EqualFold(codec.Name, name)
	})
	if idx == -1 {
		return Offered{}, false
	}

	return offered[idx], true
}

// ProducerCodecs reshapes the capabilities of the given kind into the codec form used by a producer.
func ProducerCodecs(capabilities []media.CodecCapability, kind media.Kind) []media.CodecParameters {
	codecs := []media.CodecParameters{}
	for _, capability := range capabilities {
		if capability.Kind != kind {
			continue
		}

		codecs = append(codecs, media.CodecParameters{
			MimeType:     capability.MimeType,
			PayloadType:  capability.PreferredPayloadType,
			ClockRate:    capability.ClockRate,
			Channels:     capability.Channels,
			RTCPFeedback: capability.RTCPFeedback,
			Parameters:   capability.Parameters.Clone(),
		})
	}

	return codecs
}

// PrimaryPayloadType is the payload type of the first non-retransmission codec of the kind.
func PrimaryPayloadType(capabilities []media.CodecCapability, kind media.Kind) webrtc.PayloadType {
	idx := slices.IndexFunc(capabilities, func(capability media.CodecCapability) bool {
		return capability.Kind == kind && !capability.IsRTX()
	})
	if idx != -1 {
		return capabilities[idx].PreferredPayloadType
	}

	if kind == media.KindAudio {
		return DefaultAudioPayloadType
	}

	return DefaultVideoPayloadType
}
