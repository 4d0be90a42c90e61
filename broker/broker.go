// Package broker serves short-lived realtime session tokens to voice clients so
// the long-lived API key never leaves the server.
package broker

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/enesunal-m/rtvoice"
	"github.com/enesunal-m/rtvoice/webrtc"
)

const missingKeyBody = "Missing OPENAI_API_KEY"

// Server is the token broker.
type Server struct {
	cfg  rtvoice.Config
	hc   *http.Client
	log  *rtvoice.Logger
	auth Authenticator

	readFile func(name string) ([]byte, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHTTPClient sets the client used for the session-creation call.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Server) { s.hc = hc }
}

// WithLogger sets the logger. Default: rtvoice.DefaultLogger.
func WithLogger(l *rtvoice.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithAuthenticator requires callers of /api/session to present a bearer token
// accepted by a.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// New creates a broker for cfg.
func New(cfg rtvoice.Config, opts ...Option) *Server {
	if cfg.BaseURL == "" {
		cfg.BaseURL = rtvoice.DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = rtvoice.DefaultModel
	}
	if cfg.InstructionsPath == "" {
		cfg.InstructionsPath = rtvoice.DefaultInstructionsPath
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = rtvoice.DefaultRequestTimeout
	}
	s := &Server{
		cfg:      cfg,
		hc:       &http.Client{Timeout: cfg.RequestTimeout},
		log:      rtvoice.DefaultLogger,
		readFile: os.ReadFile,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the broker's routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(cors(s.cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	api := r.Group("/api")
	if s.auth != nil {
		api.Use(authMiddleware(s.auth, s.log))
	}
	api.GET("/session", s.handleSession)
	return r
}

// handleSession creates one remote session per call and relays the remote
// status and body unchanged.
func (s *Server) handleSession(c *gin.Context) {
	log := s.log.WithContext(map[string]interface{}{"request_id": c.GetString(requestIDKey)})

	if err := s.cfg.RequireAPIKey(); err != nil {
		log.Error("missing_api_key", nil)
		c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(missingKeyBody))
		return
	}

	instructions, err := s.instructions()
	if err != nil {
		log.Error("instructions_read_failed", map[string]interface{}{"path": s.cfg.InstructionsPath, "error": err.Error()})
		serverError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	res, err := webrtc.CreateSession(ctx, s.hc, s.cfg, instructions)
	if err != nil {
		log.Error("session_create_failed", map[string]interface{}{"error": err.Error()})
		serverError(c, err)
		return
	}

	fields := map[string]interface{}{"status": res.Status, "bytes": len(res.Body)}
	if res.OK() {
		log.Info("session_created", fields)
	} else {
		log.Warn("session_rejected", fields)
	}
	c.Data(res.Status, "application/json", res.Body)
}

// instructions reads the instructions file on every call so edits apply
// without a restart.
func (s *Server) instructions() (string, error) {
	b, err := s.readFile(s.cfg.InstructionsPath)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func serverError(c *gin.Context, err error) {
	c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte("Server error: "+err.Error()))
}
