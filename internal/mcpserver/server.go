// Package mcpserver exposes the task scheduler over the Model Context
// Protocol. Inbound tool calls and outbound sampling requests share one
// stdio stream; the session registry tracks who is on the other end so
// that timer fires can reach back to the client.
package mcpserver

import (
	"context"
	"log"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/scheduler"
)

// Server wires the scheduler to an MCP stdio transport.
type Server struct {
	mcp      *server.MCPServer
	sched    *scheduler.Scheduler
	log      *slog.Logger
	sessions *sessionRegistry
}

// New assembles the MCP server: tool catalogue, sampling capability,
// session tracking. The scheduler's reverse sampling channel is connected
// here.
func New(sched *scheduler.Scheduler, name, version string, lg *slog.Logger) *Server {
	if lg == nil {
		lg = slog.Default()
	}
	s := &Server{
		sched:    sched,
		log:      lg,
		sessions: newSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		s.sessions.add(session)
		lg.Info("client session connected", "session", session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		s.sessions.remove(session.SessionID())
		lg.Info("client session disconnected", "session", session.SessionID())
	})

	m := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithHooks(hooks),
	)
	m.EnableSampling()
	s.mcp = m

	s.registerTools()
	sched.SetSampler(&samplingClient{srv: m, sessions: s.sessions})
	return s
}

// Serve pumps the stdio transport until the stream closes or ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// sessionRegistry tracks connected client sessions. Stdio carries exactly
// one, but registration is hook-driven, so the bookkeeping stays general.
type sessionRegistry struct {
	mu       sync.Mutex
	order    []string
	sessions map[string]server.ClientSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]server.ClientSession)}
}

func (r *sessionRegistry) add(s server.ClientSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.SessionID()
	if _, ok := r.sessions[id]; !ok {
		r.order = append(r.order, id)
	}
	r.sessions[id] = s
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// active returns the most recently registered live session.
func (r *sessionRegistry) active() (server.ClientSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		if s, ok := r.sessions[r.order[i]]; ok {
			return s, true
		}
	}
	return nil, false
}
