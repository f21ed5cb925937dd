package peer

import (
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// A callback that is called once we receive first RTP packets from a track, i.e.
// we call this function each time a new track is received.
func (t *Transport) onRtpTrackReceived(remoteTrack *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	ssrc := remoteTrack.SSRC()
	logger := t.logger.WithFields(logrus.Fields{
		"ssrc":  ssrc,
		"kind":  remoteTrack.Kind().String(),
		"codec": remoteTrack.Codec().MimeType,
	})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	producer, found := t.producers[ssrc]
	if !found {
		t.unclaimed[ssrc] = remoteTrack
	}
	t.mu.Unlock()

	if !found {
		logger.Debug("remote track arrived before its producer")
		return
	}

	producer.attach(remoteTrack)
}

// A callback that is called once we receive an ICE candidate for this peer connection.
func (t *Transport) onICECandidateGathered(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		t.logger.Debug("ICE candidate gathering finished")
		_ = t.sink.Send(ICEGatheringComplete{})
		return
	}

	t.logger.WithField("candidate", candidate).Debug("ICE candidate gathered")
	_ = t.sink.Send(NewICECandidate{Candidate: candidate.ToJSON()})
}

// Tracks were added or removed, a new offer is sent to the client.
func (t *Transport) onNegotiationNeeded() {
	t.logger.Debug("negotiation needed")

	offer, err := t.peerConnection.CreateOffer(nil)
	if err != nil {
		t.logger.WithError(err).Error("failed to create offer")
		return
	}

	if err := t.peerConnection.SetLocalDescription(offer); err != nil {
		t.logger.WithError(err).Error("failed to set local description")
		return
	}

	_ = t.sink.Send(RenegotiationRequired{Offer: offer})
}

func (t *Transport) onICEConnectionStateChanged(state webrtc.ICEConnectionState) {
	t.logger.Debugf("ICE connection state changed: %v", state)
}

func (t *Transport) onSignalingStateChanged(state webrtc.SignalingState) {
	t.logger.Debugf("signaling state changed: %v", state)
}

func (t *Transport) onConnectionStateChanged(state webrtc.PeerConnectionState) {
	t.logger.Infof("connection state changed: %v", state)

	_ = t.sink.Send(ConnectionStateChanged{State: state})

	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		_ = t.sink.Send(ConnectionClosed{})
	}
}
