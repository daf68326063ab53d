package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel is the platform a conversation happens on
type Channel string

const (
	ChannelInstagram Channel = "instagram"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelConsole   Channel = "console"
)

// ParseChannel validates a channel name
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(s)) {
	case ChannelInstagram:
		return ChannelInstagram, nil
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	case ChannelConsole:
		return ChannelConsole, nil
	}
	return "", fmt.Errorf("unknown channel: %q", s)
}

// ConversationKey identifies one customer thread of one bot
type ConversationKey struct {
	BotID      int64   `json:"bot_id"`
	Channel    Channel `json:"channel"`
	CustomerID string  `json:"customer_id"`
}

// String returns the stable "<bot>:<channel>:<customer>" form
func (k ConversationKey) String() string {
	return strconv.FormatInt(k.BotID, 10) + ":" + string(k.Channel) + ":" + k.CustomerID
}

// CustomerProfile describes the person the bot is talking to
type CustomerProfile struct {
	ID       string
	Username string
	FullName string
}

// Conversation is a snapshot of one conversation's history
type Conversation struct {
	Key     ConversationKey
	History []Message // chronological
}

// LastActivity returns the newest message time strictly before t, or zero
func (c *Conversation) LastActivity(before time.Time) time.Time {
	var last time.Time
	for i := range c.History {
		m := &c.History[i]
		if m.Sender == SenderSystemNote {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		if m.CreatedAt.After(last) {
			last = m.CreatedAt
		}
	}
	return last
}

// LastCustomerMessage returns the most recent customer message, or nil
func (c *Conversation) LastCustomerMessage() *Message {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Sender == SenderCustomer && strings.TrimSpace(c.History[i].Text) != "" {
			return &c.History[i]
		}
	}
	return nil
}

// DialogueWindow returns the last limit customer/bot messages with text,
// excluding messages created at or after cutoff (zero cutoff keeps all)
func (c *Conversation) DialogueWindow(limit int, cutoff time.Time) []Message {
	var out []Message
	for _, m := range c.History {
		if m.Sender == SenderSystemNote || strings.TrimSpace(m.Text) == "" {
			continue
		}
		if !cutoff.IsZero() && !m.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// HoursSince converts the gap since last into hours; a zero last yields -1
func HoursSince(last, now time.Time) float64 {
	if last.IsZero() {
		return -1
	}
	h := now.Sub(last).Hours()
	if h < 0 {
		return 0
	}
	return h
}
