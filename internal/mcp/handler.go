package mcp

import (
	"context"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const defaultConversationLimit = 20

// Handler exposes the owner control surface as MCP tools backed by the
// HTTP API of a running rawbot server
type Handler struct {
	client *Client
	server *mcpsdk.Server
	logger *zap.Logger
}

// NewHandler creates the MCP server and registers every tool
func NewHandler(client *Client, version string, logger *zap.Logger) *Handler {
	h := &Handler{
		client: client,
		server: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "rawbot-tools",
			Version: version,
		}, nil),
		logger: logger,
	}
	h.registerTools()
	return h
}

// Run serves MCP over stdio until the client disconnects
func (h *Handler) Run(ctx context.Context) error {
	h.logger.Info("[MCP] Serving on stdio")
	return h.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// Server returns the underlying MCP server
func (h *Handler) Server() *mcpsdk.Server {
	return h.server
}

func (h *Handler) registerTools() {
	mcpsdk.AddTool(h.server, &mcpsdk.Tool{
		Name:        ToolGetBotState,
		Description: "Get a bot's current mode, pending action, learned observations and live context.",
	}, h.handleGetBotState)

	mcpsdk.AddTool(h.server, &mcpsdk.Tool{
		Name:        ToolSetMode,
		Description: "Turn a bot's automatic replies on or off, or put it in listening mode where it records messages without replying.",
	}, h.handleSetMode)

	mcpsdk.AddTool(h.server, &mcpsdk.Tool{
		Name:        ToolAnswerPendingAction,
		Description: "Answer the question the bot escalated to the owner. The bot relays the answer to the waiting customer and remembers it.",
	}, h.handleAnswerPendingAction)

	mcpsdk.AddTool(h.server, &mcpsdk.Tool{
		Name:        ToolDismissPendingAction,
		Description: "Dismiss the bot's pending escalation without answering the customer.",
	}, h.handleDismissPendingAction)

	mcpsdk.AddTool(h.server, &mcpsdk.Tool{
		Name:        ToolAddObservation,
		Description: "Teach the bot a standing fact about the store that it should use in every future conversation.",
	}, h.handleAddObservation)

	mcpsdk.AddTool(h.server, &mcpsdk.Tool{
		Name:        ToolGetConversation,
		Description: "Read the most recent messages of one customer conversation.",
	}, h.handleGetConversation)
}

// ============ Tool Handlers ============

func (h *Handler) handleGetBotState(ctx context.Context, req *mcpsdk.CallToolRequest, in BotInput) (*mcpsdk.CallToolResult, any, error) {
	st, err := h.client.GetBot(ctx, in.BotID)
	if err != nil {
		return nil, BotStateOutput{Error: h.describe(ToolGetBotState, err)}, nil
	}
	return nil, BotStateOutput{Bot: st}, nil
}

func (h *Handler) handleSetMode(ctx context.Context, req *mcpsdk.CallToolRequest, in SetModeInput) (*mcpsdk.CallToolResult, any, error) {
	if in.IsActive == nil && in.IsListening == nil {
		return nil, SetModeOutput{Error: "set is_active or is_listening"}, nil
	}
	flags, err := h.client.SetMode(ctx, in.BotID, in.IsActive, in.IsListening)
	if err != nil {
		return nil, SetModeOutput{Error: h.describe(ToolSetMode, err)}, nil
	}
	return nil, SetModeOutput{IsActive: flags.IsActive, IsListening: flags.IsListening}, nil
}

func (h *Handler) handleAnswerPendingAction(ctx context.Context, req *mcpsdk.CallToolRequest, in AnswerInput) (*mcpsdk.CallToolResult, any, error) {
	if in.Instruction == "" {
		return nil, SuccessOutput{Error: "instruction is required"}, nil
	}
	if err := h.client.AnswerPendingAction(ctx, in.BotID, in.Instruction); err != nil {
		return nil, SuccessOutput{Error: h.describe(ToolAnswerPendingAction, err)}, nil
	}
	return nil, SuccessOutput{Success: true}, nil
}

func (h *Handler) handleDismissPendingAction(ctx context.Context, req *mcpsdk.CallToolRequest, in BotInput) (*mcpsdk.CallToolResult, any, error) {
	action, err := h.client.DismissPendingAction(ctx, in.BotID)
	if err != nil {
		return nil, DismissOutput{Error: h.describe(ToolDismissPendingAction, err)}, nil
	}
	return nil, DismissOutput{Dismissed: action}, nil
}

func (h *Handler) handleAddObservation(ctx context.Context, req *mcpsdk.CallToolRequest, in ObservationInput) (*mcpsdk.CallToolResult, any, error) {
	if in.Text == "" {
		return nil, ObservationOutput{Error: "text is required"}, nil
	}
	added, err := h.client.AddObservation(ctx, in.BotID, in.Text)
	if err != nil {
		return nil, ObservationOutput{Error: h.describe(ToolAddObservation, err)}, nil
	}
	return nil, ObservationOutput{Added: added}, nil
}

func (h *Handler) handleGetConversation(ctx context.Context, req *mcpsdk.CallToolRequest, in ConversationInput) (*mcpsdk.CallToolResult, any, error) {
	if in.Channel == "" || in.CustomerID == "" {
		return nil, ConversationOutput{Error: "channel and customer_id are required"}, nil
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	msgs, err := h.client.Messages(ctx, in.BotID, in.Channel, in.CustomerID, limit)
	if err != nil {
		return nil, ConversationOutput{Error: h.describe(ToolGetConversation, err)}, nil
	}
	return nil, ConversationOutput{Messages: msgs}, nil
}

// describe turns an API failure into a message the model can act on
func (h *Handler) describe(tool string, err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case 403:
			return "the bot's license is not active"
		case 404:
			return "no such bot"
		case 409:
			return "there is no pending action"
		}
		return apiErr.Message
	}
	h.logger.Warn("[MCP] tool call failed", zap.String("tool", tool), zap.Error(err))
	return fmt.Sprintf("rawbot server unreachable: %v", err)
}
