// Package media describes the capability the room layer needs from a media transport engine.
// Rooms and sessions only ever talk to a provider through these interfaces.
package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pion/webrtc/v3"
)

// ErrClosed is returned by providers for operations on a handle that has already been closed.
var ErrClosed = errors.New("media: handle is closed")

// Kind of the media that a producer or a consumer carries.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// CodecType converts the kind into its pion counterpart.
func (k Kind) CodecType() webrtc.RTPCodecType {
	switch k {
	case KindAudio:
		return webrtc.RTPCodecTypeAudio
	case KindVideo:
		return webrtc.RTPCodecTypeVideo
	default:
		return 0
	}
}

func KindFromCodecType(t webrtc.RTPCodecType) Kind {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return KindAudio
	case webrtc.RTPCodecTypeVideo:
		return KindVideo
	default:
		return ""
	}
}

// ParseKind parses a kind as it is used by the signaling clients.
func ParseKind(s string) (Kind, error) {
	kind := Kind(strings.ToLower(s))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown media kind %q", s)
	}

	return kind, nil
}

// Codec-specific parameters (the `a=fmtp` key/value pairs, e.g. `apt=102`).
type CodecSpecificParameters map[string]string

// FmtpLine renders the parameters in a stable order.
func (p CodecSpecificParameters) FmtpLine() string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+p[key])
	}

	return strings.Join(pairs, ";")
}

func (p CodecSpecificParameters) Clone() CodecSpecificParameters {
	if p == nil {
		return nil
	}

	clone := make(CodecSpecificParameters, len(p))
	for key, value := range p {
		clone[key] = value
	}

	return clone
}

// A codec the SFU is able to route, with the payload type it prefers for a given client.
type CodecCapability struct {
	Kind                 Kind
	MimeType             string
	ClockRate            uint32
	Channels             uint16
	RTCPFeedback         []webrtc.RTCPFeedback
	Parameters           CodecSpecificParameters
	PreferredPayloadType webrtc.PayloadType
}

// Name returns the codec name, i.e. the subtype of the MIME type ("opus" for "audio/opus").
func (c CodecCapability) Name() string {
	if _, name, found := strings.Cut(c.MimeType, "/"); found {
		return name
	}

	return c.MimeType
}

// IsRTX reports whether the capability describes a retransmission codec.
func (c CodecCapability) IsRTX() bool {
	return strings.EqualFold(c.Name(), "rtx")
}

// RTPCodecCapability converts the capability into the pion representation.
func (c CodecCapability) RTPCodecCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  c.Parameters.FmtpLine(),
		RTCPFeedback: c.RTCPFeedback,
	}
}

// Codec as it is used in the RTP parameters of a producer or a consumer.
type CodecParameters struct {
	MimeType     string
	PayloadType  webrtc.PayloadType
	ClockRate    uint32
	Channels     uint16
	RTCPFeedback []webrtc.RTCPFeedback
	Parameters   CodecSpecificParameters
}

func (c CodecParameters) RTPCodecCapability() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  c.Parameters.FmtpLine(),
		RTCPFeedback: c.RTCPFeedback,
	}
}

// A single RTP stream of a producer or a consumer.
type Encoding struct {
	SSRC             webrtc.SSRC
	RTXSSRC          webrtc.SSRC
	CodecPayloadType webrtc.PayloadType
	MaxBitrate       uint32
}

// Negotiated RTP header extension.
type HeaderExtension struct {
	URI string `json:"uri"`
	ID  int    `json:"id"`
}

type RTPParameters struct {
	Codecs           []CodecParameters
	Encodings        []Encoding
	HeaderExtensions []HeaderExtension
}

// Header extension that a consumer is able to receive.
type CapabilityHeaderExtension struct {
	Kind        Kind
	URI         string
	PreferredID int
}

// What a consuming endpoint is able to receive.
type RTPCapabilities struct {
	Codecs           []CodecCapability
	HeaderExtensions []CapabilityHeaderExtension
}

type ProducerOptions struct {
	Kind          Kind
	RTPParameters RTPParameters
	Paused        bool
	AppData       map[string]string
}

type ConsumerOptions struct {
	ProducerID      string
	RTPCapabilities RTPCapabilities
	Paused          bool
	AppData         map[string]string
}

// Producer is a client's outbound media stream registered with the provider.
type Producer interface {
	ID() string
	Kind() Kind
	// Close must be idempotent: closing a closed producer is not an error.
	Close() error
}

// Consumer is a subscriber's inbound handle onto a producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	// Negotiated parameters, the encodings carry the SSRCs the subscriber will receive.
	RTPParameters() RTPParameters
	// Resume returns ErrClosed if the consumer is already gone.
	Resume(ctx context.Context) error
	// Close must be idempotent: closing a closed consumer is not an error.
	Close() error
}

// Transport is a client's connection to the media engine.
type Transport interface {
	Produce(ctx context.Context, options ProducerOptions) (Producer, error)
	Consume(ctx context.Context, options ConsumerOptions) (Consumer, error)
	// Close must be idempotent.
	Close() error
}

// Router scopes producers to a room so that consumers created on any transport of the
// room can find them. It is opaque to the room itself.
type Router interface {
	ID() string
	Close() error
}
