package signaling

import (
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/codec"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/pion/webrtc/v3"
)

// Operations sent by clients.
const (
	OpJoin          = "join"
	OpOffer         = "offer"
	OpAnswer        = "answer"
	OpCandidate     = "candidate"
	OpSSRCs         = "ssrcs"
	OpPublish       = "publish"
	OpUnpublish     = "unpublish"
	OpSubscribe     = "subscribe"
	OpUnsubscribe   = "unsubscribe"
	OpIsSubscribed  = "is_subscribed"
	OpIncomingSSRCs = "incoming_ssrcs"
	OpOutgoingSSRCs = "outgoing_ssrcs"
	OpLeave         = "leave"
	OpPing          = "ping"
)

// Operations sent by the server. `offer`, `answer`, `candidate` and `ssrcs` are shared with the
// client operations.
const (
	OpJoined       = "joined"
	OpLeft         = "left"
	OpSubscribed   = "subscribed"
	OpPong         = "pong"
	OpError        = "error"
	OpMemberJoined = "member_joined"
	OpMemberLeft   = "member_left"
	OpPublished    = "published"
	OpUnpublished  = "unpublished"
)

// Request is a frame received from a client. Only the fields of its operation are set.
type Request struct {
	Op       string     `json:"op"`
	Room     string     `json:"room,omitempty"`
	RoomKind string     `json:"room_kind,omitempty"`
	UserID   string     `json:"user_id,omitempty"`
	Kind     media.Kind `json:"kind,omitempty"`

	SDP    string          `json:"sdp,omitempty"`
	Codecs []codec.Offered `json:"codecs,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	SSRCs media.SSRCs `json:"ssrcs"`
}

func (r Request) ICECandidate() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     r.Candidate,
		SDPMid:        r.SDPMid,
		SDPMLineIndex: r.SDPMLineIndex,
	}
}

// Response is a frame sent to a client.
type Response struct {
	Op      string     `json:"op"`
	Room    string     `json:"room,omitempty"`
	Members []string   `json:"members,omitempty"`
	UserID  string     `json:"user_id,omitempty"`
	Kind    media.Kind `json:"kind,omitempty"`

	SDP string `json:"sdp,omitempty"`

	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`

	Subscribed *bool        `json:"subscribed,omitempty"`
	SSRCs      *media.SSRCs `json:"ssrcs,omitempty"`
	Message    string       `json:"message,omitempty"`
}

func candidateResponse(candidate webrtc.ICECandidateInit) Response {
	return Response{
		Op:            OpCandidate,
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}
}

func subscribedResponse(userID string, kind media.Kind, subscribed bool, ssrcs media.SSRCs) Response {
	return Response{Op: OpSubscribed, UserID: userID, Kind: kind, Subscribed: &subscribed, SSRCs: &ssrcs}
}

func ssrcsResponse(userID string, ssrcs media.SSRCs) Response {
	return Response{Op: OpSSRCs, UserID: userID, SSRCs: &ssrcs}
}

func errorResponse(err error) Response {
	return Response{Op: OpError, Message: err.Error()}
}
