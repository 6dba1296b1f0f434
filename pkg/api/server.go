// Package api exposes the audit orchestration core's HTTP surface (C10):
// POST /submit, POST /orchestrator, POST /recovery, GET /healthz, GET /ws.
// Grounded on the teacher's gin-based entry point (cmd/tarsy/main.go wires
// gin.SetMode and pkg/api/handlers.go's gin.Context handlers) rather than
// the teacher's echo-based live server — gin is the framework the teacher
// actually lists as a direct go.mod dependency and exercises from main.go.
package api

import (
	"context"
	"database/sql"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/dispatcher"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/queue"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/statuschannel"
)

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg           *config.Config
	db            *sql.DB
	preflights    *preflight.Store
	queue         *queue.Queue
	dispatcher    *dispatcher.Dispatcher
	statusStore   *statuschannel.Store
	statusManager *statuschannel.Manager
	loop          *reasoning.Loop
}

// NewServer wires the gin engine and every route. Every dependency is
// required — there is no optional Set* wiring step here, unlike the
// teacher's Server, because every endpoint in this surface needs its
// collaborator to do anything useful. loop must already be built over the
// registry and LLM client the deployment wants every /orchestrator session
// to use (pkg/reasoning.New) — the server itself has no opinion on tool
// wiring.
func NewServer(
	cfg *config.Config,
	db *sql.DB,
	preflights *preflight.Store,
	q *queue.Queue,
	disp *dispatcher.Dispatcher,
	statusStore *statuschannel.Store,
	statusManager *statuschannel.Manager,
	loop *reasoning.Loop,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(securityHeaders())

	s := &Server{
		engine:        e,
		cfg:           cfg,
		db:            db,
		preflights:    preflights,
		queue:         q,
		dispatcher:    disp,
		statusStore:   statusStore,
		statusManager: statusManager,
		loop:          loop,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthzHandler)

	s.engine.POST("/submit", s.submitHandler)
	s.engine.POST("/orchestrator", s.orchestratorHandler)
	s.engine.POST("/recovery", s.recoveryHandler)
	s.engine.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (non-blocking on the
// caller's goroutine; ListenAndServe blocks).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
