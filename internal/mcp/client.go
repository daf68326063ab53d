package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rawbot-ai/rawbot/internal/api"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// Client is the HTTP client for the rawbot control API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new MCP client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the control API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func botPath(botID int64, suffix string) string {
	return "/api/bots/" + strconv.FormatInt(botID, 10) + suffix
}

// ============ Bot Operations ============

// GetBot reads the operator view of a bot
func (c *Client) GetBot(ctx context.Context, botID int64) (*api.BotState, error) {
	var st api.BotState
	if err := c.do(ctx, http.MethodGet, botPath(botID, ""), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetMode changes the bot's flags; nil leaves a flag unchanged
func (c *Client) SetMode(ctx context.Context, botID int64, active, listening *bool) (domain.Flags, error) {
	body := map[string]*bool{"is_active": active, "is_listening": listening}
	var result struct {
		IsActive    bool `json:"is_active"`
		IsListening bool `json:"is_listening"`
	}
	if err := c.do(ctx, http.MethodPost, botPath(botID, "/flags"), body, &result); err != nil {
		return domain.Flags{}, err
	}
	return domain.Flags{IsActive: result.IsActive, IsListening: result.IsListening}, nil
}

// AddObservation stores a standing fact; returns false for duplicates
func (c *Client) AddObservation(ctx context.Context, botID int64, text string) (bool, error) {
	var result struct {
		Added bool `json:"added"`
	}
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, botPath(botID, "/observations"), body, &result); err != nil {
		return false, err
	}
	return result.Added, nil
}

// ============ Pending Action Operations ============

// AnswerPendingAction resolves the live pending action with an instruction
func (c *Client) AnswerPendingAction(ctx context.Context, botID int64, instruction string) error {
	body := map[string]string{"instruction": instruction}
	return c.do(ctx, http.MethodPost, botPath(botID, "/pending-action/answer"), body, nil)
}

// DismissPendingAction clears the live pending action
func (c *Client) DismissPendingAction(ctx context.Context, botID int64) (*domain.PendingAction, error) {
	var result struct {
		Dismissed *domain.PendingAction `json:"dismissed"`
	}
	if err := c.do(ctx, http.MethodDelete, botPath(botID, "/pending-action"), nil, &result); err != nil {
		return nil, err
	}
	return result.Dismissed, nil
}

// ============ Conversation Operations ============

// Messages reads the newest messages of a conversation
func (c *Client) Messages(ctx context.Context, botID int64, channel, customerID string, limit int) ([]api.MessageView, error) {
	var result struct {
		Messages []api.MessageView `json:"messages"`
	}
	path := botPath(botID, fmt.Sprintf("/conversations/%s/%s/messages?limit=%d",
		url.PathEscape(channel), url.PathEscape(customerID), limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// ============ HTTP Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
