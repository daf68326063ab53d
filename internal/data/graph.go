package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// DefaultGraphAPIBase is the versioned Meta Graph endpoint
const DefaultGraphAPIBase = "https://graph.facebook.com/v21.0"

// graphSender delivers replies through the Meta Graph send API
type graphSender struct {
	base   string
	client *http.Client
}

// NewGraphSender creates a Graph API sender. An empty base uses the default.
func NewGraphSender(base string, client *http.Client) repo.PlatformRepo {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = DefaultGraphAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &graphSender{base: base, client: client}
}

type igSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type waSendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type graphErrorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts text to the conversation's customer
func (s *graphSender) Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) error {
	var (
		senderID string
		token    string
		body     interface{}
	)

	switch conv.Channel {
	case domain.ChannelInstagram:
		senderID = bot.Instagram.BusinessID
		if senderID == "" {
			senderID = bot.Instagram.PageID
		}
		token = bot.Instagram.AccessToken
		req := igSendRequest{}
		req.Recipient.ID = conv.CustomerID
		req.Message.Text = text
		body = req
	case domain.ChannelWhatsApp:
		senderID = bot.WhatsApp.PhoneNumberID
		token = bot.WhatsApp.AccessToken
		req := waSendRequest{MessagingProduct: "whatsapp", To: conv.CustomerID}
		req.Text.Body = text
		body = req
	default:
		return fmt.Errorf("graph sender does not handle channel %q", conv.Channel)
	}

	if senderID == "" || token == "" {
		return fmt.Errorf("bot %d has no %s credentials", bot.ID, conv.Channel)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := s.base + "/" + senderID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", conv.Channel, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var ge graphErrorBody
	if len(raw) > 0 && json.Unmarshal(raw, &ge) == nil && ge.Error != nil {
		return fmt.Errorf("graph API error (%d): %s", resp.StatusCode, ge.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("graph API status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// ConsoleSink receives console channel replies
type ConsoleSink func(conv domain.ConversationKey, text string)

// consoleSender hands console replies to a sink, usually the chat REPL
type consoleSender struct {
	sink ConsoleSink
}

// NewConsoleSender creates the console channel sender
func NewConsoleSender(sink ConsoleSink) repo.PlatformRepo {
	return &consoleSender{sink: sink}
}

func (s *consoleSender) Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) error {
	if s.sink == nil {
		return nil
	}
	s.sink(conv, text)
	return nil
}

// channelRouter selects a sender by conversation channel
type channelRouter struct {
	routes map[domain.Channel]repo.PlatformRepo
}

// NewChannelRouter creates a PlatformRepo dispatching on channel
func NewChannelRouter(graph, console repo.PlatformRepo) repo.PlatformRepo {
	r := &channelRouter{routes: make(map[domain.Channel]repo.PlatformRepo)}
	if graph != nil {
		r.routes[domain.ChannelInstagram] = graph
		r.routes[domain.ChannelWhatsApp] = graph
	}
	if console != nil {
		r.routes[domain.ChannelConsole] = console
	}
	return r
}

func (r *channelRouter) Send(ctx context.Context, bot *domain.BotProfile, conv domain.ConversationKey, text string) error {
	p, ok := r.routes[conv.Channel]
	if !ok {
		return fmt.Errorf("no sender for channel %q", conv.Channel)
	}
	return p.Send(ctx, bot, conv, text)
}
