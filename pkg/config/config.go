package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/room"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/signaling"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/telemetry"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SFU configuration.
type Config struct {
	// Signaling server configuration.
	Signaling signaling.Config `yaml:"signaling"`
	// WebRTC (ICE, public addresses) configuration.
	WebRTC webrtc_ext.Config `yaml:"webrtc"`
	// Room (publish / subscribe) configuration.
	Room room.Config `yaml:"room"`
	// Codecs and header extensions routed by the rooms.
	Codec Codec `yaml:"codec"`
	// Tracing configuration, disabled if no exporter is set.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
}

type Codec struct {
	// Primary video codec: H264, VP8 or VP9.
	Video string `yaml:"video"`
	// Header extensions negotiated with the clients, the built-in allow-list if empty.
	HeaderExtensions []string `yaml:"headerExtensions"`
}

// Catalog of the configured codecs.
func (c Codec) Catalog() (codec.Catalog, error) {
	return codec.NewCatalog(c.Video)
}

// Configuration used for every value that is not set explicitly.
func Default() Config {
	return Config{
		Signaling: signaling.DefaultConfig(),
		Room:      room.DefaultConfig(),
		Codec:     Codec{Video: "H264"},
		LogLevel:  "info",
	}
}

var (
	// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
	ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")
	ErrInvalidConfig  = errors.New("invalid config values")
)

// Tries to load a config from the `CONFIG` environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config could
// not be loaded.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadConfigFromPath(path)
	}

	return config, nil
}

// Tries to load the config from environment variable (`CONFIG`).
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadConfigFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadConfigFromString(string(file))
}

// Load config from the provided string.
// Returns an error if the string is not a valid YAML or the values are out of range.
func LoadConfigFromString(configString string) (*Config, error) {
	logrus.Info("loading config from string")

	config := Default()
	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch {
	case c.Signaling.ListenAddress == "":
		return fmt.Errorf("%w: signaling.listenAddress is empty", ErrInvalidConfig)
	case c.Signaling.KeepAliveTimeout < 1 || c.Signaling.KeepAliveTimeout > 300:
		return fmt.Errorf("%w: signaling.keepAliveTimeout must be within 1..300", ErrInvalidConfig)
	case c.Room.VideoResumeDelayMs < 0:
		return fmt.Errorf("%w: room.videoResumeDelayMs is negative", ErrInvalidConfig)
	case c.Room.AudioMaxBitrate == 0:
		return fmt.Errorf("%w: room.audioMaxBitrate must be positive", ErrInvalidConfig)
	case c.WebRTC.PortMin > c.WebRTC.PortMax:
		return fmt.Errorf("%w: webrtc.portMin is above webrtc.portMax", ErrInvalidConfig)
	}

	if _, err := c.Codec.Catalog(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}
