package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	portnotifier "github.com/alanyang/dispatch-mesh/internal/port/notifier"
)

var _ portnotifier.AgentNotifier = (*SessionRegistry)(nil)

// sessionEntry tracks a connected agent app's identity.
type sessionEntry struct {
	agentID uuid.UUID
	userID  uuid.UUID
}

// SessionRegistry is the in-memory registry of active MCP sessions.
// It implements port/notifier.AgentNotifier.
//
// [SRP] Session storage and notification dispatch only.
type SessionRegistry struct {
	mu         sync.RWMutex
	bySessions map[string]*sessionEntry // sessionID → entry
	byAgent    map[uuid.UUID]string     // agentID → sessionID

	// mcpSrv is set after the MCP server is constructed (avoids circular init dependency).
	mcpMu  sync.RWMutex
	mcpSrv *mcpserver.MCPServer
}

// NewSessionRegistry creates a registry without an MCP server reference.
// Call SetMCPServer once the mcp-go server is constructed.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		bySessions: make(map[string]*sessionEntry),
		byAgent:    make(map[uuid.UUID]string),
	}
}

func (r *SessionRegistry) SetMCPServer(s *mcpserver.MCPServer) {
	r.mcpMu.Lock()
	r.mcpSrv = s
	r.mcpMu.Unlock()
}

// Register maps a session to an agent. A reconnecting agent replaces its old session.
func (r *SessionRegistry) Register(sessionID string, agentID, userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldSession, ok := r.byAgent[agentID]; ok {
		delete(r.bySessions, oldSession)
	}
	r.bySessions[sessionID] = &sessionEntry{agentID: agentID, userID: userID}
	r.byAgent[agentID] = sessionID
}

// Unregister removes a session when it closes. Returns the agentID it mapped to.
func (r *SessionRegistry) Unregister(sessionID string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.bySessions[sessionID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.bySessions, sessionID)
	delete(r.byAgent, entry.agentID)
	return entry.agentID, true
}

// Notify implements port/notifier.AgentNotifier. Users with no session are a no-op.
func (r *SessionRegistry) Notify(_ context.Context, userID, orderID uuid.UUID, message string) error {
	r.mu.RLock()
	targets := make([]string, 0, 1)
	for sessionID, entry := range r.bySessions {
		if entry.userID == userID {
			targets = append(targets, sessionID)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	r.mcpMu.RLock()
	srv := r.mcpSrv
	r.mcpMu.RUnlock()
	if srv == nil {
		return fmt.Errorf("mcp server not initialized")
	}

	params, err := toParams(map[string]any{
		"type":     "order_notification",
		"order_id": orderID,
		"message":  message,
	})
	if err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}

	var lastErr error
	for _, sessionID := range targets {
		if err := srv.SendNotificationToSpecificClient(sessionID, "notifications/message", params); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// IsConnected returns whether the agent has an active session.
func (r *SessionRegistry) IsConnected(agentID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAgent[agentID]
	return ok
}

func toParams(event any) (map[string]any, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return map[string]any{"data": event}, nil
	}
	return params, nil
}
