package peer

import (
	"github.com/pion/webrtc/v3"
)

// Events a transport posts to its owner. Due to the limitation of Go, we're using the `interface{}`
// to be able to switch on the actual type of the event on runtime.
type Event = interface{}

type NewICECandidate struct {
	Candidate webrtc.ICECandidateInit
}

type ICEGatheringComplete struct{}

// The SFU added or removed tracks, the offer has to be sent to the client.
type RenegotiationRequired struct {
	Offer webrtc.SessionDescription
}

type ConnectionStateChanged struct {
	State webrtc.PeerConnectionState
}

// The peer connection failed or got closed, the transport can't be used anymore.
type ConnectionClosed struct{}
