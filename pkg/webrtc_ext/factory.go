package webrtc_ext

import (
	"fmt"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/pion/webrtc/v3"
)

// Peer connection factory is used to construct new (pre-configured) peer connections.
type PeerConnectionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewPeerConnectionFactory(config Config, catalog codec.Catalog, headerExtensions []string) (*PeerConnectionFactory, error) {
	api, err := CreateWebRTCAPI(config, catalog, headerExtensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC API: %w", err)
	}

	return &PeerConnectionFactory{api, config.PeerConnectionConfig()}, nil
}

func (f *PeerConnectionFactory) CreatePeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.config)
}
