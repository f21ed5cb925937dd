package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/common"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/peer"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/room"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout     = 5 * time.Second
	operationTimeout = 10 * time.Second
	// Frames that may wait for the worker before the client is told to slow down.
	pendingFrames = 32
)

var (
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrUnknownOp     = errors.New("unknown operation")
	ErrMissingField  = errors.New("missing field")
	ErrNotJoined     = errors.New("not in a room")
	ErrNoTransport   = errors.New("no transport, send an offer first")
	ErrSessionClosed = errors.New("session was replaced or has left")
)

// Connection of a single client. Frames are processed one at a time by a worker, the state of the
// connection below is only touched by the worker goroutine.
type Connection struct {
	id     string
	ws     *websocket.Conn
	server *Server
	logger *logrus.Entry
	worker *common.Worker[func()]

	// Events of the transports created for this connection.
	events     chan common.Message[string, peer.Event]
	eventsDone chan struct{}

	room      *room.Room
	session   *room.Session
	transport *peer.Transport
	// Sender of the events of the current transport.
	sinkID string

	mu       sync.Mutex
	outgoing chan []byte
	closed   bool
}

func newConnection(id string, ws *websocket.Conn, server *Server, logger *logrus.Entry) *Connection {
	return &Connection{
		id:         id,
		ws:         ws,
		server:     server,
		logger:     logger,
		events:     make(chan common.Message[string, peer.Event], 64),
		eventsDone: make(chan struct{}),
		outgoing:   make(chan []byte, server.config.WriteBuffer),
	}
}

func (c *Connection) start() {
	if c.server.config.ReadLimit > 0 {
		c.ws.SetReadLimit(c.server.config.ReadLimit)
	}

	c.worker = common.StartWorker(common.WorkerConfig[func()]{
		ChannelSize: pendingFrames,
		Timeout:     c.server.config.KeepAlive(),
		OnTimeout: func() {
			c.logger.Warn("no frames received within the keep-alive timeout, closing the connection")
			_ = c.ws.Close()
		},
		OnTask: func(task func()) {
			task()
		},
	})

	c.logger.Info("connection established")

	go c.writeLoop()
	go c.eventLoop()
	go c.readLoop()
}

func (c *Connection) readLoop() {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Warn("connection lost")
			}
			return
		}

		if err := c.worker.Send(func() { c.handleFrame(data) }); err != nil {
			c.logger.WithError(err).Warn("dropping frame")
			c.send(errorResponse(err))
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.ws.Close()

	for payload := range c.outgoing {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return
		}

		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.logger.WithError(err).Debug("failed to write frame")
			return
		}
	}

	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout),
	)
}

// Forwards transport events to the client.
func (c *Connection) eventLoop() {
	for {
		select {
		case <-c.eventsDone:
			return
		case message := <-c.events:
			switch event := message.Content.(type) {
			case peer.NewICECandidate:
				c.send(candidateResponse(event.Candidate))
			case peer.ICEGatheringComplete:
				c.logger.Debug("ICE gathering complete")
			case peer.RenegotiationRequired:
				c.send(Response{Op: OpOffer, SDP: event.Offer.SDP})
			case peer.ConnectionStateChanged:
				c.logger.WithField("state", event.State.String()).Debug("transport state changed")
			case peer.ConnectionClosed:
				sinkID := message.Sender
				if err := c.worker.Send(func() { c.onTransportClosed(sinkID) }); err != nil {
					c.logger.WithError(err).Debug("transport closed while the connection is closing")
				}
			default:
				c.logger.Errorf("unknown transport event: %T", event)
			}
		}
	}
}

// Queues a response without blocking. Responses are dropped once the client stops reading.
func (c *Connection) send(response Response) {
	payload, err := json.Marshal(response)
	if err != nil {
		c.logger.WithError(err).Error("failed to marshal response")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.outgoing <- payload:
	default:
		c.logger.WithField("op", response.Op).Warn("client is too slow, dropping response")
	}
}

// Releases everything the connection owns once the client is gone.
func (c *Connection) close() {
	c.worker.Stop()
	<-c.worker.Done()

	c.leave()
	close(c.eventsDone)

	c.mu.Lock()
	c.closed = true
	close(c.outgoing)
	c.mu.Unlock()

	c.logger.Info("connection closed")
}

func (c *Connection) handleFrame(data []byte) {
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		c.send(errorResponse(fmt.Errorf("%w: %v", ErrInvalidFrame, err)))
		return
	}

	if err := c.handle(request); err != nil {
		c.logger.WithError(err).WithField("op", request.Op).Warn("request failed")
		c.send(errorResponse(err))
	}
}

// The peer connection of the current transport failed, media can't flow until the client
// negotiates again.
func (c *Connection) onTransportClosed(sinkID string) {
	if sinkID != c.sinkID || c.transport == nil {
		return
	}

	c.logger.Warn("transport closed by the remote side")
	if c.session != nil {
		c.room.SetReady(c.session, false)
	}
}

// Leaves the current room, if any, and notifies the remaining members.
func (c *Connection) leave() {
	if c.session == nil {
		return
	}

	joined, session := c.room, c.session
	c.room, c.session, c.transport, c.sinkID = nil, nil, nil, ""

	joined.Leave(session)

	c.server.hub.remove(joined.ID(), c)
	c.server.hub.broadcast(joined.ID(), c, Response{
		Op:     OpMemberLeft,
		Room:   joined.ID(),
		UserID: session.ParticipantID(),
	})
}
