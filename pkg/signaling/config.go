package signaling

import "time"

// Configuration of the WebSocket signaling server.
type Config struct {
	// Address the HTTP server listens on, e.g. ":8080".
	ListenAddress string `yaml:"listenAddress"`
	// Number of seconds without any frame from a client after which the connection is closed.
	KeepAliveTimeout int `yaml:"keepAliveTimeout"`
	// Maximum size of a single frame received from a client, in bytes.
	ReadLimit int64 `yaml:"readLimit"`
	// Number of outgoing frames buffered per connection.
	WriteBuffer int `yaml:"writeBuffer"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddress:    ":8080",
		KeepAliveTimeout: 30,
		ReadLimit:        1 << 20,
		WriteBuffer:      64,
	}
}

func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveTimeout) * time.Second
}
