package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
)

// Server wraps the mark3labs/mcp-go MCPServer and its StreamableHTTPServer.
// [SRP] HTTP server lifecycle only (start, stop, session open/close).
//
//	Tools are registered in tools.go, session state in registry.go.
type Server struct {
	httpSrv  *mcpserver.StreamableHTTPServer
	reg      *SessionRegistry
	agentSvc *agentsvc.Service
	log      *logger.Logger
}

// New creates the MCP transport server. reg is built before the services so
// it can be handed to the engine as a notifier; the MCPServer reference is
// set on it here.
func New(
	reg *SessionRegistry,
	agentSvc *agentsvc.Service,
	orderSvc *ordersvc.Service,
	dispatchSvc *dispatchsvc.Service,
	log *logger.Logger,
) *Server {
	s := &Server{
		reg:      reg,
		agentSvc: agentSvc,
		log:      log,
	}

	hooks := &mcpserver.Hooks{}
	hooks.OnUnregisterSession = append(hooks.OnUnregisterSession, s.onSessionClose)

	mcpSrv := mcpserver.NewMCPServer(
		"dispatch-mesh",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithHooks(hooks),
	)
	reg.SetMCPServer(mcpSrv)

	RegisterTools(mcpSrv, reg, agentSvc, orderSvc, dispatchSvc)

	s.httpSrv = mcpserver.NewStreamableHTTPServer(mcpSrv)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpSrv
}

func (s *Server) Registry() *SessionRegistry {
	return s.reg
}

// onSessionClose takes a disconnected agent offline so its orders move on.
func (s *Server) onSessionClose(ctx context.Context, session mcpserver.ClientSession) {
	agentID, ok := s.reg.Unregister(session.SessionID())
	if !ok {
		return
	}
	ctx = s.log.WithFields(ctx, map[string]any{"session_id": session.SessionID(), "agent_id": agentID.String()})
	s.log.Info(ctx, "mcp session closed, taking agent offline")

	go func() {
		ctx := context.WithoutCancel(ctx)
		if _, _, err := s.agentSvc.SetAvailability(ctx, agentID, domainagent.AvailabilityOffline); err != nil {
			s.log.Error(ctx, "offline after session close failed", err)
		}
	}()
}
