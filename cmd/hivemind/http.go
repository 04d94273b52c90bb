package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/team"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Interval between status pushes to websocket clients
	pushInterval = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The status stream is read-only and unauthenticated on localhost
	CheckOrigin: func(r *http.Request) bool { return true },
}

// APIServer serves the task status API and the live event stream
type APIServer struct {
	port   int
	team   *team.Team
	server *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	quit    chan struct{}
}

// NewAPIServer creates the status API for one running team
func NewAPIServer(port int, tm *team.Team) *APIServer {
	return &APIServer{
		port:    port,
		team:    tm,
		clients: make(map[*websocket.Conn]bool),
		quit:    make(chan struct{}),
	}
}

// Start begins serving in the background
func (s *APIServer) Start() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", s.handleStatus)
		v1.GET("/agents", s.handleAgents)
		v1.GET("/agents/:id", s.handleAgent)
		v1.GET("/decisions", s.handleDecisions)
		v1.POST("/pause", s.handlePause)
		v1.POST("/resume", s.handleResume)
		v1.GET("/ws", s.handleWebSocket)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Int("port", s.port).Msg("Starting API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server error")
		}
	}()
	go s.pushLoop()
}

// Shutdown stops the server and closes every websocket client
func (s *APIServer) Shutdown(ctx context.Context) error {
	close(s.quit)

	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *APIServer) handleStatus(c *gin.Context) {
	stats := s.team.Bus().GetStats()
	c.JSON(http.StatusOK, gin.H{
		"task_id":      s.team.TaskID(),
		"status":       s.team.Status(),
		"current_tick": s.team.Clock().CurrentTick(),
		"elapsed_ms":   s.team.Clock().ElapsedMS(),
		"bus": gin.H{
			"sent":      stats.TotalSent,
			"delivered": stats.TotalDelivered,
			"dropped":   stats.TotalDropped,
			"overflows": stats.Overflows,
		},
	})
}

func (s *APIServer) handleAgents(c *gin.Context) {
	agents := s.team.Agents()
	out := make([]gin.H, 0, len(agents))
	for _, a := range agents {
		metrics := a.Metrics()
		out = append(out, gin.H{
			"id":         a.ID,
			"name":       a.Name,
			"layer":      a.Layer,
			"status":     a.Status(),
			"supervisor": a.Supervisor,
			"metrics":    metrics,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (s *APIServer) handleAgent(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.team.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	report, err := s.team.QueryAgentStatus(ctx, id, 25*time.Second)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *APIServer) handleDecisions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"decisions": s.team.Engine().List()})
}

func (s *APIServer) handlePause(c *gin.Context) {
	s.team.Pause(c.Request.Context(), "api request")
	c.JSON(http.StatusOK, gin.H{"status": s.team.Status()})
}

func (s *APIServer) handleResume(c *gin.Context) {
	s.team.Resume(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": s.team.Status()})
}

// handleWebSocket upgrades the connection and registers the client for
// periodic status pushes
func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("WebSocket client connected")
}

// pushLoop periodically broadcasts the team status to all clients
func (s *APIServer) pushLoop() {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
		}

		payload := gin.H{
			"type":         "status",
			"task_id":      s.team.TaskID(),
			"status":       s.team.Status(),
			"current_tick": s.team.Clock().CurrentTick(),
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		}

		s.mu.Lock()
		for conn := range s.clients {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(payload); err != nil {
				_ = conn.Close()
				delete(s.clients, conn)
			}
		}
		s.mu.Unlock()
	}
}
