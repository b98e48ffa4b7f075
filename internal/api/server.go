package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"bozbot/internal/database"
)

// Store is the read surface the handlers need.
type Store interface {
	GetOperator(ctx context.Context) (*database.Operator, error)
	ListPendingTrades(ctx context.Context, operatorID int64) ([]database.PendingTrade, error)
	RecentTrades(ctx context.Context, operatorID int64, limit int) ([]database.Trade, error)
	LatestPrediction(ctx context.Context, city string, date time.Time) (*database.Prediction, error)
	HealthCheck(ctx context.Context) error
}

// Approver is the executor surface driving the manual-mode state machine.
type Approver interface {
	Approve(ctx context.Context, pendingID int64, now time.Time) (*database.Trade, error)
	Reject(ctx context.Context, pendingID int64) error
}

// Config holds the server's listen address and auth settings.
type Config struct {
	Addr           string
	ProductionMode bool
	AuthEnabled    bool
	JWTSecret      string
	AllowedOrigins []string
}

// Server is the front-end HTTP + WebSocket process.
type Server struct {
	router   *gin.Engine
	http     *http.Server
	store    Store
	executor Approver
	hub      *Hub
	config   Config
	log      zerolog.Logger
}

func NewServer(config Config, store Store, executor Approver, hub *Hub, log zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:   gin.New(),
		store:    store,
		executor: executor,
		hub:      hub,
		config:   config,
		log:      log.With().Str("component", "api").Logger(),
	}

	s.router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	s.router.Use(cors.New(corsConfig))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	apiGroup := s.router.Group("/api")
	if s.config.AuthEnabled {
		apiGroup.Use(s.authMiddleware())
	}
	apiGroup.GET("/pending", s.handleListPending)
	apiGroup.POST("/pending/:id/approve", s.handleApprove)
	apiGroup.POST("/pending/:id/reject", s.handleReject)
	apiGroup.GET("/trades", s.handleListTrades)
	apiGroup.GET("/predictions/:city", s.handleGetPrediction)
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{Addr: s.config.Addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.config.Addr).Msg("server listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// authMiddleware validates a Bearer token signed with the shared secret.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(s.config.JWTSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  s.hub,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
