package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/richardkyk/radio/internal/config"
	"github.com/richardkyk/radio/internal/logging"
	"github.com/richardkyk/radio/internal/peer"
	"github.com/richardkyk/radio/internal/version"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout = 5 * time.Second
	maxClientIDLen  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Development relay: any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures a relay Server.
type Options struct {
	Addr string

	// API builds the relay's peer connections. Nil uses peer.NewAPI defaults.
	API *webrtc.API
}

// Server is the development relay: a gin engine in front of a Hub.
type Server struct {
	addr   string
	hub    *Hub
	engine *gin.Engine
	log    zerolog.Logger
}

// NewServer builds the relay. Call Run to serve it.
func NewServer(opts Options) (*Server, error) {
	api := opts.API
	if api == nil {
		var err error
		if api, err = peer.NewAPI(peer.Options{}); err != nil {
			return nil, err
		}
	}

	addr := opts.Addr
	if addr == "" {
		addr = config.DefaultRelayAddr
	}

	s := &Server{
		addr: addr,
		hub:  NewHub(api),
		log:  logging.Module("relay"),
	}
	s.engine = s.routes()
	return s, nil
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler serving the relay routes.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves the relay until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Str("version", version.Version).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("relay stopped")
	return nil
}

func (s *Server) routes() *gin.Engine {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
	})
	r.GET("/topics", s.handleTopics)
	r.GET("/ws/:role", s.serveWS)
	return r
}

func (s *Server) handleTopics(c *gin.Context) {
	topics, err := s.hub.Topics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"topics": topics})
}

func (s *Server) serveWS(c *gin.Context) {
	role := peer.Role(c.Param("role"))
	if role != peer.RoleSpeaker && role != peer.RoleListener {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown role"})
		return
	}
	topic := c.DefaultQuery("topic", config.DefaultTopic)
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing topic"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	id := c.Query("id")
	if !validClientID(id) {
		id = uuid.NewString()
	}
	client := newClient(s.hub, conn, id, role, topic)
	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// validClientID accepts ids that fit in a stream id segment.
func validClientID(id string) bool {
	return id != "" && len(id) <= maxClientIDLen && !strings.ContainsAny(id, ":/ ")
}

// requestLogger logs each request through zerolog.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
