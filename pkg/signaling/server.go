package signaling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/peer"
	"github.com/dank074/mediasoup-spacebar-wrtc/pkg/room"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server accepts WebSocket signaling connections and exposes the rooms over HTTP.
type Server struct {
	config     Config
	manager    *room.Manager
	transports *peer.Factory
	logger     *logrus.Entry

	upgrader websocket.Upgrader
	hub      *hub
	engine   *gin.Engine
	http     *http.Server
}

func NewServer(config Config, manager *room.Manager, transports *peer.Factory, logger *logrus.Entry) *Server {
	server := &Server{
		config:     config,
		manager:    manager,
		transports: transports,
		logger:     logger.WithField("module", "signaling"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: newHub(),
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), server.requestLogger())

	engine.GET("/ws", server.handleWebSocket)
	engine.GET("/rooms", server.handleRooms)
	engine.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	server.engine = engine
	server.http = &http.Server{
		Addr:              config.ListenAddress,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Handler serving the signaling endpoints.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens until the server is shut down.
func (s *Server) Run() error {
	s.logger.WithField("address", s.config.ListenAddress).Info("listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting connections. Established WebSocket connections are not tracked by the
// HTTP server, they end once the rooms are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("failed to upgrade connection")
		return
	}

	id := uuid.NewString()
	connection := newConnection(id, ws, s, s.logger.WithFields(logrus.Fields{
		"conn_id": id,
		"remote":  c.ClientIP(),
	}))
	connection.start()
}

func (s *Server) handleRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.List())
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
		}).Debug("request handled")
	}
}
