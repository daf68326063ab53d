package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/service"
)

// Webhook object types
const (
	objectInstagram = "instagram"
	objectPage      = "page"
	objectWhatsApp  = "whatsapp_business_account"
)

const (
	eventReceived = "EVENT_RECEIVED"
	maxBodyBytes  = 1 << 20
	dedupTTL      = 5 * time.Minute
)

// InboundHandler is the part of the conversation service the webhook needs
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg *service.InboundMessage) error
}

// WebhookServer receives Meta platform webhooks
type WebhookServer struct {
	handler     InboundHandler
	verifyToken string
	logger      *zap.Logger

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewWebhookServer creates a new webhook server
func NewWebhookServer(handler InboundHandler, verifyToken string, logger *zap.Logger) *WebhookServer {
	return &WebhookServer{
		handler:     handler,
		verifyToken: verifyToken,
		logger:      logger,
		seenMsgs:    make(map[string]time.Time),
	}
}

// Register mounts the webhook routes
func (s *WebhookServer) Register(r *mux.Router) {
	for _, path := range []string{"/webhook", "/webhook/{platform}"} {
		r.HandleFunc(path, s.handleVerify).Methods(http.MethodGet)
		r.HandleFunc(path, s.handleEvent).Methods(http.MethodPost)
	}
}

// ─────────────────────────────────────────
// Payloads
// ─────────────────────────────────────────

type webhookEvent struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID        string           `json:"id"`
	Messaging []messagingEvent `json:"messaging"`
	Changes   []changeEvent    `json:"changes"`
}

type participant struct {
	ID string `json:"id"`
}

type messagingEvent struct {
	Sender      participant `json:"sender"`
	Recipient   participant `json:"recipient"`
	Timestamp   int64       `json:"timestamp"`
	Message     *igMessage  `json:"message"`
	MessageEdit *igMessage  `json:"message_edit"`
}

type igMessage struct {
	Mid    string `json:"mid"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

type changeEvent struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []waMessage `json:"messages"`
}

type waMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

// ─────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────

func (s *WebhookServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	if mode == "" {
		mode = q.Get("mode")
	}
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		s.logger.Info("[Webhook] verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}

func (s *WebhookServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event webhookEvent
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&event); err != nil {
		s.logger.Warn("malformed webhook body", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var msgs []*service.InboundMessage
	switch event.Object {
	case objectInstagram, objectPage:
		msgs = s.instagramMessages(&event)
	case objectWhatsApp:
		msgs = s.whatsAppMessages(&event)
	default:
		http.NotFound(w, r)
		return
	}

	s.dispatch(context.WithoutCancel(r.Context()), msgs)

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, eventReceived)
}

// dispatch runs conversations in parallel and each conversation's
// messages in arrival order
func (s *WebhookServer) dispatch(ctx context.Context, msgs []*service.InboundMessage) {
	if len(msgs) == 0 {
		return
	}

	order := []string{}
	groups := make(map[string][]*service.InboundMessage)
	for _, m := range msgs {
		key := string(m.Channel) + "|" + m.RecipientID + "|" + m.CustomerID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, key := range order {
		group := groups[key]
		g.Go(func() error {
			for _, m := range group {
				if err := s.handler.HandleInbound(ctx, m); err != nil {
					s.logger.Error("failed to handle inbound message",
						zap.String("channel", string(m.Channel)),
						zap.String("message_id", m.MessageID),
						zap.Error(err))
				}
			}
			return nil
		})
	}
	g.Wait()
}

func (s *WebhookServer) instagramMessages(event *webhookEvent) []*service.InboundMessage {
	var out []*service.InboundMessage
	for _, entry := range event.Entry {
		for _, m := range entry.Messaging {
			msg := m.Message
			id := ""
			if msg == nil && m.MessageEdit != nil {
				msg = m.MessageEdit
				id = "edit:" + msg.Mid + ":" + msg.Text
			}
			if msg == nil || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			if id == "" {
				id = msg.Mid
			}
			if s.seen(id) {
				s.logger.Debug("duplicate message ignored", zap.String("message_id", id))
				continue
			}

			in := &service.InboundMessage{
				Channel:     domain.ChannelInstagram,
				RecipientID: m.Recipient.ID,
				CustomerID:  m.Sender.ID,
				MessageID:   msg.Mid,
				Text:        msg.Text,
				Caller:      &domain.CustomerProfile{ID: m.Sender.ID},
			}
			if msg.IsEcho {
				// sent by the business account itself
				in.Echo = true
				in.RecipientID, in.CustomerID = m.Sender.ID, m.Recipient.ID
				in.Caller = nil
			}
			out = append(out, in)
		}
	}
	return out
}

func (s *WebhookServer) whatsAppMessages(event *webhookEvent) []*service.InboundMessage {
	var out []*service.InboundMessage
	for _, entry := range event.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := make(map[string]string)
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				if m.Type != "text" || m.Text == nil || strings.TrimSpace(m.Text.Body) == "" {
					continue
				}
				if s.seen(m.ID) {
					s.logger.Debug("duplicate message ignored", zap.String("message_id", m.ID))
					continue
				}
				out = append(out, &service.InboundMessage{
					Channel:     domain.ChannelWhatsApp,
					RecipientID: v.Metadata.PhoneNumberID,
					CustomerID:  m.From,
					MessageID:   m.ID,
					Text:        m.Text.Body,
					Caller:      &domain.CustomerProfile{ID: m.From, FullName: names[m.From]},
				})
			}
		}
	}
	return out
}

// seen reports whether id was already processed and marks it otherwise.
// Empty ids are never deduplicated.
func (s *WebhookServer) seen(id string) bool {
	if id == "" {
		return false
	}
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := time.Now()
	if ts, ok := s.seenMsgs[id]; ok && now.Sub(ts) < dedupTTL {
		return true
	}
	s.seenMsgs[id] = now

	// Clean up expired message records when marking new messages
	cutoff := now.Add(-dedupTTL)
	for k, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, k)
		}
	}
	return false
}
