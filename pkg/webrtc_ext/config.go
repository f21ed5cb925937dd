package webrtc_ext

import "github.com/pion/webrtc/v3"

// Configuration of the WebRTC API for the SFU.
type Config struct {
	// Public IP addresses of the SFU announced in the ICE candidates.
	PublicIPs []string `yaml:"ipAddresses"`
	// STUN/TURN servers handed to the peer connections.
	ICEServers []string `yaml:"iceServers"`
	// UDP port range used for ICE, unrestricted if zero.
	PortMin uint16 `yaml:"portMin"`
	PortMax uint16 `yaml:"portMax"`
}

// Configuration of a single peer connection.
func (c Config) PeerConnectionConfig() webrtc.Configuration {
	if len(c.ICEServers) == 0 {
		return webrtc.Configuration{}
	}

	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: c.ICEServers}},
	}
}
