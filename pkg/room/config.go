package room

import (
	"errors"
	"fmt"
	"time"
)

// Kind of a voice room.
type Kind string

const (
	// Persistent group room of a guild channel.
	KindGuildVoice Kind = "guild-voice"
	// Pairwise call, removed once the last participant leaves.
	KindDMVoice Kind = "dm-voice"
	// Broadcast of a single streamer, removed once the last participant leaves.
	KindStream Kind = "stream"
)

var ErrUnknownKind = errors.New("unknown room kind")

func ParseKind(s string) (Kind, error) {
	switch kind := Kind(s); kind {
	case KindGuildVoice, KindDMVoice, KindStream:
		return kind, nil
	case "":
		return KindGuildVoice, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Ephemeral rooms only live as long as they have members.
func (k Kind) Ephemeral() bool {
	return k == KindDMVoice || k == KindStream
}

// Configuration of the rooms.
type Config struct {
	// Delay after which a freshly created video consumer is resumed (in milliseconds).
	VideoResumeDelayMs int `yaml:"videoResumeDelayMs"`
	// Maximum bitrate of the audio encoding of a producer (bits per second).
	AudioMaxBitrate uint32 `yaml:"audioMaxBitrate"`
}

func DefaultConfig() Config {
	return Config{
		VideoResumeDelayMs: 2000,
		AudioMaxBitrate:    64000,
	}
}

func (c Config) VideoResumeDelay() time.Duration {
	return time.Duration(c.VideoResumeDelayMs) * time.Millisecond
}
