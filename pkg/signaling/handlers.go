package signaling

import (
	"context"
	"fmt"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/common"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/media"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/room"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

func (c *Connection) handle(request Request) error {
	switch request.Op {
	case OpPing:
		c.send(Response{Op: OpPong})
		return nil
	case OpJoin:
		return c.handleJoin(request)
	}

	if c.session == nil {
		return fmt.Errorf("%w: %s", ErrNotJoined, request.Op)
	}

	switch request.Op {
	case OpLeave:
		c.leave()
		c.send(Response{Op: OpLeft})
		return nil
	case OpOffer:
		return c.handleOffer(request)
	case OpAnswer:
		return c.handleAnswer(request)
	case OpCandidate:
		return c.handleCandidate(request)
	case OpSSRCs:
		c.room.InitIncomingSSRCs(c.session, request.SSRCs)
		c.send(ssrcsResponse(c.session.ParticipantID(), c.room.IncomingSSRCs(c.session)))
		return nil
	case OpPublish:
		return c.handlePublish(request)
	case OpUnpublish:
		return c.handleUnpublish(request)
	case OpSubscribe, OpUnsubscribe, OpIsSubscribed:
		return c.handleSubscription(request)
	case OpIncomingSSRCs:
		c.send(ssrcsResponse(c.session.ParticipantID(), c.room.IncomingSSRCs(c.session)))
		return nil
	case OpOutgoingSSRCs:
		if request.UserID == "" {
			return fmt.Errorf("%w: user_id", ErrMissingField)
		}
		c.send(ssrcsResponse(request.UserID, c.room.OutgoingSSRCs(c.session, request.UserID)))
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, request.Op)
	}
}

func (c *Connection) handleJoin(request Request) error {
	if request.Room == "" || request.UserID == "" {
		return fmt.Errorf("%w: room and user_id are required", ErrMissingField)
	}

	kind, err := room.ParseKind(request.RoomKind)
	if err != nil {
		return err
	}

	// A connection is in at most one room.
	c.leave()

	joined, session, err := c.server.manager.Join(request.Room, kind, request.UserID)
	if err != nil {
		return err
	}

	c.room, c.session = joined, session
	c.logger = c.logger.WithFields(logrus.Fields{"room_id": joined.ID(), "user_id": request.UserID})

	c.server.hub.add(joined.ID(), c)
	c.send(Response{Op: OpJoined, Room: joined.ID(), Members: joined.Members()})
	c.server.hub.broadcast(joined.ID(), c, Response{
		Op:     OpMemberJoined,
		Room:   joined.ID(),
		UserID: request.UserID,
	})

	return nil
}

// The first offer creates the transport of the connection, later offers renegotiate it.
func (c *Connection) handleOffer(request Request) error {
	codecs, extensions, err := ParseOffer(request.SDP)
	if err != nil {
		return err
	}

	if len(request.Codecs) > 0 {
		codecs = request.Codecs
	}

	var answer *webrtc.SessionDescription
	if c.transport == nil {
		sinkID := uuid.NewString()
		sink := common.NewSink(sinkID, c.events)

		transport, sdpAnswer, err := c.server.transports.Negotiate(
			c.room.Router(), c.session.ParticipantID(), request.SDP, sink)
		if err != nil {
			return err
		}

		c.transport, c.sinkID, answer = transport, sinkID, sdpAnswer
	} else {
		if answer, err = c.transport.ProcessSDPOffer(request.SDP); err != nil {
			return err
		}
	}

	replaced := c.room.OnOffer(c.session, room.Offer{
		Transport:        c.transport,
		Codecs:           codecs,
		HeaderExtensions: extensions,
	})
	if replaced != nil {
		if err := replaced.Close(); err != nil {
			c.logger.WithError(err).Warn("failed to close replaced transport")
		}
	}

	if replaced == media.Transport(c.transport) {
		c.transport, c.sinkID = nil, ""
		return ErrSessionClosed
	}

	c.send(Response{Op: OpAnswer, SDP: answer.SDP})
	c.room.SetReady(c.session, true)

	return nil
}

func (c *Connection) handleAnswer(request Request) error {
	if c.transport == nil {
		return ErrNoTransport
	}

	return c.transport.ProcessSDPAnswer(request.SDP)
}

func (c *Connection) handleCandidate(request Request) error {
	if c.transport == nil {
		return ErrNoTransport
	}

	return c.transport.AddICECandidate(request.ICECandidate())
}

func (c *Connection) handlePublish(request Request) error {
	kind, err := media.ParseKind(string(request.Kind))
	if err != nil {
		return err
	}

	wasProducing := c.session.IsProducing(kind)

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := c.room.Publish(ctx, c.session, kind, request.SSRCs); err != nil {
		return err
	}

	if !wasProducing && c.session.IsProducing(kind) {
		ssrcs := c.room.IncomingSSRCs(c.session)
		c.server.hub.broadcast(c.room.ID(), nil, Response{
			Op:     OpPublished,
			Room:   c.room.ID(),
			UserID: c.session.ParticipantID(),
			Kind:   kind,
			SSRCs:  &ssrcs,
		})
	}

	return nil
}

func (c *Connection) handleUnpublish(request Request) error {
	kind, err := media.ParseKind(string(request.Kind))
	if err != nil {
		return err
	}

	if !c.session.IsProducing(kind) {
		return nil
	}

	c.room.Unpublish(c.session, kind)
	c.server.hub.broadcast(c.room.ID(), nil, Response{
		Op:     OpUnpublished,
		Room:   c.room.ID(),
		UserID: c.session.ParticipantID(),
		Kind:   kind,
	})

	return nil
}

// Subscribe, unsubscribe and the subscription query all answer with the resulting state.
func (c *Connection) handleSubscription(request Request) error {
	if request.UserID == "" {
		return fmt.Errorf("%w: user_id", ErrMissingField)
	}

	kind, err := media.ParseKind(string(request.Kind))
	if err != nil {
		return err
	}

	switch request.Op {
	case OpSubscribe:
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		if err := c.room.Subscribe(ctx, c.session, request.UserID, kind); err != nil {
			return err
		}
	case OpUnsubscribe:
		c.room.Unsubscribe(c.session, request.UserID, kind)
	}

	c.send(subscribedResponse(
		request.UserID,
		kind,
		c.room.IsSubscribed(c.session, request.UserID, kind),
		c.room.OutgoingSSRCs(c.session, request.UserID),
	))

	return nil
}
