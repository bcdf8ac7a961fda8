package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
)

// RegisterTools registers all MCP tools on the server.
// [SRP] Tool registration only.
// [OCP] Add a new tool by adding a new AddTool call; server.go never changes.
func RegisterTools(
	s *mcpserver.MCPServer,
	reg *SessionRegistry,
	agentSvc *agentsvc.Service,
	orderSvc *ordersvc.Service,
	dispatchSvc *dispatchsvc.Service,
) {
	s.AddTool(mcpmcp.NewTool("register_agent",
		mcpmcp.WithDescription("Register this delivery agent and bind the session to it. Returns the agent_id. On reconnect, pass the previously issued agent_id to reuse the same record."),
		mcpmcp.WithString("user_id", mcpmcp.Required(), mcpmcp.Description("Owning user account UUID")),
		mcpmcp.WithString("name", mcpmcp.Required(), mcpmcp.Description("Display name")),
		mcpmcp.WithNumber("max_order_capacity", mcpmcp.Description("Concurrent order limit (default 3)")),
		mcpmcp.WithString("agent_id", mcpmcp.Description("Previously issued agent UUID")),
	), registerAgentHandler(reg, agentSvc))

	s.AddTool(mcpmcp.NewTool("set_availability",
		mcpmcp.WithDescription("Go online (queued orders are assigned into the new capacity) or offline (held orders move to other agents or back to the queue)."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
		mcpmcp.WithString("availability", mcpmcp.Required(), mcpmcp.Description("online or offline")),
	), setAvailabilityHandler(agentSvc))

	s.AddTool(mcpmcp.NewTool("heartbeat",
		mcpmcp.WithDescription("Report liveness. Agents that stop sending heartbeats are taken offline by the sweeper."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
	), heartbeatHandler(agentSvc))

	s.AddTool(mcpmcp.NewTool("list_my_orders",
		mcpmcp.WithDescription("Orders this agent currently holds (assigned through delivered), oldest first."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
	), listMyOrdersHandler(orderSvc))

	s.AddTool(mcpmcp.NewTool("update_order_status",
		mcpmcp.WithDescription("Advance an order: assigned→picked→in_transit→delivered, or cancel it. from is a CAS guard."),
		mcpmcp.WithString("order_id", mcpmcp.Required(), mcpmcp.Description("Order UUID")),
		mcpmcp.WithString("from", mcpmcp.Required(), mcpmcp.Description("Current status")),
		mcpmcp.WithString("to", mcpmcp.Required(), mcpmcp.Description("Target status")),
	), updateOrderStatusHandler(orderSvc))

	s.AddTool(mcpmcp.NewTool("assign_order",
		mcpmcp.WithDescription("Ops: assign a placed or queued order now. Returns {agent_id, queued}."),
		mcpmcp.WithString("order_id", mcpmcp.Required(), mcpmcp.Description("Order UUID")),
	), assignOrderHandler(dispatchSvc))

	s.AddTool(mcpmcp.NewTool("process_queue",
		mcpmcp.WithDescription("Ops: replay the queue into current capacity. Returns how many orders were assigned."),
	), processQueueHandler(dispatchSvc))

	s.AddTool(mcpmcp.NewTool("reassign_agent_orders",
		mcpmcp.WithDescription("Ops: move every order an agent holds to other agents or back to the queue."),
		mcpmcp.WithString("agent_id", mcpmcp.Required(), mcpmcp.Description("Agent UUID")),
	), reassignAgentOrdersHandler(dispatchSvc))
}

// ── Tool handlers ─────────────────────────────────────────────────────────

func registerAgentHandler(reg *SessionRegistry, agentSvc *agentsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		userID, err := uuid.Parse(mcpmcp.ParseString(req, "user_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid user_id"), nil
		}
		name := mcpmcp.ParseString(req, "name", "")
		if name == "" {
			return mcpmcp.NewToolResultText("error: name required"), nil
		}
		capacity := mcpmcp.ParseInt(req, "max_order_capacity", 0)
		existingIDStr := mcpmcp.ParseString(req, "agent_id", "")

		session := mcpserver.ClientSessionFromContext(ctx)

		// Reconnect path: reuse the existing record if it belongs to this user.
		if existingIDStr != "" {
			if existingID, err := uuid.Parse(existingIDStr); err == nil {
				if a, err := agentSvc.GetByID(ctx, existingID); err == nil && a.UserID == userID {
					if session != nil {
						reg.Register(session.SessionID(), a.ID, a.UserID)
					}
					return jsonResult(map[string]string{"agent_id": a.ID.String()}), nil
				}
				// Unknown or foreign agent id: fall through to create new.
			}
		}

		a, err := agentSvc.Register(ctx, userID, name, capacity)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		if session != nil {
			reg.Register(session.SessionID(), a.ID, a.UserID)
		}
		return jsonResult(map[string]string{"agent_id": a.ID.String()}), nil
	}
}

func setAvailabilityHandler(agentSvc *agentsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, err := uuid.Parse(mcpmcp.ParseString(req, "agent_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}
		av := domainagent.Availability(mcpmcp.ParseString(req, "availability", ""))
		if !av.Valid() {
			return mcpmcp.NewToolResultText("error: availability must be online or offline"), nil
		}

		a, n, err := agentSvc.SetAvailability(ctx, agentID, av)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(map[string]any{"agent": a, "affected": n}), nil
	}
}

func heartbeatHandler(agentSvc *agentsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, err := uuid.Parse(mcpmcp.ParseString(req, "agent_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}
		if err := agentSvc.Heartbeat(ctx, agentID); err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return mcpmcp.NewToolResultText(`{"ok":true}`), nil
	}
}

func listMyOrdersHandler(orderSvc *ordersvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, err := uuid.Parse(mcpmcp.ParseString(req, "agent_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}
		orders, err := orderSvc.ListByAgent(ctx, agentID, domainorder.ActiveStatuses()...)
		if err != nil {
			return mcpmcp.NewToolResultText("[]"), nil
		}
		if orders == nil {
			orders = []domainorder.Order{}
		}
		return jsonResult(orders), nil
	}
}

func updateOrderStatusHandler(orderSvc *ordersvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		orderID, err := uuid.Parse(mcpmcp.ParseString(req, "order_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid order_id"), nil
		}
		from := domainorder.Status(mcpmcp.ParseString(req, "from", ""))
		to := domainorder.Status(mcpmcp.ParseString(req, "to", ""))

		o, drained, err := orderSvc.Advance(ctx, orderID, from, to)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(map[string]any{"order": o, "drained": drained}), nil
	}
}

func assignOrderHandler(dispatchSvc *dispatchsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		orderID, err := uuid.Parse(mcpmcp.ParseString(req, "order_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid order_id"), nil
		}
		res, err := dispatchSvc.AssignOrder(ctx, orderID)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(res), nil
	}
}

func processQueueHandler(dispatchSvc *dispatchsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		n, err := dispatchSvc.ProcessQueue(ctx)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(map[string]int{"processed": n}), nil
	}
}

func reassignAgentOrdersHandler(dispatchSvc *dispatchsvc.Service) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
		agentID, err := uuid.Parse(mcpmcp.ParseString(req, "agent_id", ""))
		if err != nil {
			return mcpmcp.NewToolResultText("error: invalid agent_id"), nil
		}
		n, err := dispatchSvc.ReassignAgentOrders(ctx, agentID)
		if err != nil {
			return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err)), nil
		}
		return jsonResult(map[string]int{"moved": n}), nil
	}
}

func jsonResult(v any) *mcpmcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcpmcp.NewToolResultText(fmt.Sprintf("error: %s", err))
	}
	return mcpmcp.NewToolResultText(string(data))
}
