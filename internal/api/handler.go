package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz"
	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
)

const (
	defaultHistoryLimit = 50
	maxRequestBytes     = 64 << 10
	defaultLicenseTerm  = 365 * 24 * time.Hour
)

// OperatorHandler runs owner sigil commands against a conversation
type OperatorHandler interface {
	HandleOperatorInput(ctx context.Context, conv domain.ConversationKey, input string) (bool, error)
}

// Server exposes the owner control surface over HTTP
type Server struct {
	uc       *biz.Usecases
	operator OperatorHandler
	history  repo.HistoryRepo
	logger   *zap.Logger
	now      func() time.Time
}

// NewServer creates a new API server
func NewServer(uc *biz.Usecases, operator OperatorHandler, history repo.HistoryRepo, logger *zap.Logger) *Server {
	return &Server{
		uc:       uc,
		operator: operator,
		history:  history,
		logger:   logger,
		now:      time.Now,
	}
}

// Register mounts the API routes
func (s *Server) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/bots", s.handleListBots).Methods(http.MethodGet)
	api.HandleFunc("/bots/{id:[0-9]+}", s.handleGetBot).Methods(http.MethodGet)
	api.HandleFunc("/bots/{id:[0-9]+}/license", s.handleActivateLicense).Methods(http.MethodPost)

	// Licensed operations
	api.HandleFunc("/bots/{id:[0-9]+}/flags", s.licensed(s.handleSetFlags)).Methods(http.MethodPost)
	api.HandleFunc("/bots/{id:[0-9]+}/observations", s.licensed(s.handleAddObservation)).Methods(http.MethodPost)
	api.HandleFunc("/bots/{id:[0-9]+}/pending-action", s.handleGetPendingAction).Methods(http.MethodGet)
	api.HandleFunc("/bots/{id:[0-9]+}/pending-action", s.licensed(s.handleDismissPendingAction)).Methods(http.MethodDelete)
	api.HandleFunc("/bots/{id:[0-9]+}/pending-action/answer", s.licensed(s.handleAnswerPendingAction)).Methods(http.MethodPost)
	api.HandleFunc("/bots/{id:[0-9]+}/conversations/{channel}/{customer}/messages", s.handleMessages).Methods(http.MethodGet)
	api.HandleFunc("/bots/{id:[0-9]+}/conversations/{channel}/{customer}/operator", s.licensed(s.handleOperator)).Methods(http.MethodPost)
}

// ─────────────────────────────────────────
// Views
// ─────────────────────────────────────────

// BotState is the operator-facing view of a bot
type BotState struct {
	ID                  int64                 `json:"id"`
	BotName             string                `json:"bot_name"`
	StoreName           string                `json:"store_name"`
	IsActive            bool                  `json:"is_active"`
	IsListening         bool                  `json:"is_listening"`
	PendingAction       *domain.PendingAction `json:"pending_action"`
	LearnedObservations []string              `json:"learned_observations"`
	LiveContext         string                `json:"live_context,omitempty"`
	Instagram           bool                  `json:"instagram_connected"`
	WhatsApp            bool                  `json:"whatsapp_connected"`
	LicenseActive       bool                  `json:"license_active"`
	LicenseExpiresAt    *time.Time            `json:"license_expires_at,omitempty"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// MessageView is one history entry
type MessageView struct {
	ID        string        `json:"id"`
	Sender    domain.Sender `json:"sender"`
	Text      string        `json:"text"`
	HasImage  bool          `json:"has_image"`
	CreatedAt time.Time     `json:"created_at"`
	Delivered bool          `json:"delivered"`
}

func (s *Server) stateOf(bot *domain.BotProfile) BotState {
	st := BotState{
		ID:                  bot.ID,
		BotName:             bot.BotName,
		StoreName:           bot.StoreName,
		IsActive:            bot.IsActive,
		IsListening:         bot.IsListening,
		PendingAction:       bot.PendingAction,
		LearnedObservations: bot.LearnedObservations,
		LiveContext:         s.uc.Bot.LiveContext(bot.ID),
		Instagram:           bot.Instagram.Connected,
		WhatsApp:            bot.WhatsApp.Connected,
		LicenseActive:       bot.License.Usable(s.now()),
		UpdatedAt:           bot.UpdatedAt,
	}
	if st.LearnedObservations == nil {
		st.LearnedObservations = []string{}
	}
	if !bot.License.ExpiresAt.IsZero() {
		exp := bot.License.ExpiresAt
		st.LicenseExpiresAt = &exp
	}
	return st
}

// ─────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.uc.Bot.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := make([]BotState, 0, len(bots))
	for _, b := range bots {
		result = append(result, s.stateOf(b))
	}
	s.writeJSON(w, map[string]interface{}{"bots": result})
}

func (s *Server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	bot, ok := s.loadBot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, s.stateOf(bot))
}

func (s *Server) handleActivateLicense(w http.ResponseWriter, r *http.Request) {
	id, _ := botID(r)
	var req struct {
		Key  string `json:"key"`
		Days int    `json:"days"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	term := defaultLicenseTerm
	if req.Days > 0 {
		term = time.Duration(req.Days) * 24 * time.Hour
	}
	bot, err := s.uc.Bot.ActivateLicense(r.Context(), id, strings.TrimSpace(req.Key), term)
	if err != nil {
		if errors.Is(err, repo.ErrBotNotFound) {
			s.writeStatus(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, s.stateOf(bot))
}

func (s *Server) handleSetFlags(w http.ResponseWriter, r *http.Request) {
	id, _ := botID(r)
	var req struct {
		Active    *bool `json:"is_active"`
		Listening *bool `json:"is_listening"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	flags, err := s.uc.Bot.SetMode(r.Context(), id, req.Active, req.Listening)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"is_active": flags.IsActive, "is_listening": flags.IsListening})
}

func (s *Server) handleAddObservation(w http.ResponseWriter, r *http.Request) {
	id, _ := botID(r)
	var req struct {
		Text string `json:"text"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeStatus(w, http.StatusBadRequest, "text is required")
		return
	}
	added, err := s.uc.Bot.AddObservation(r.Context(), id, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true, "added": added})
}

func (s *Server) handleGetPendingAction(w http.ResponseWriter, r *http.Request) {
	id, _ := botID(r)
	action, err := s.uc.Action.Current(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"pending_action": action})
}

func (s *Server) handleDismissPendingAction(w http.ResponseWriter, r *http.Request) {
	id, _ := botID(r)
	action, err := s.uc.Action.Dismiss(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true, "dismissed": action})
}

func (s *Server) handleAnswerPendingAction(w http.ResponseWriter, r *http.Request) {
	id, _ := botID(r)
	var req struct {
		Instruction string `json:"instruction"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		s.writeStatus(w, http.StatusBadRequest, "instruction is required")
		return
	}
	if err := s.uc.Action.Resolve(r.Context(), id, strings.TrimSpace(req.Instruction)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	msgs, err := s.history.Recent(r.Context(), conv, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, MessageView{
			ID:        m.ID,
			Sender:    m.Sender,
			Text:      m.Text,
			HasImage:  m.Image != nil,
			CreatedAt: m.CreatedAt,
			Delivered: m.Delivered,
		})
	}
	s.writeJSON(w, map[string]interface{}{"messages": result})
}

func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversation(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	handled, err := s.operator.HandleOperatorInput(r.Context(), conv, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !handled {
		s.writeStatus(w, http.StatusBadRequest, "input must start with '.' or '!'")
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

// licensed rejects the request unless the bot holds a usable license
func (s *Server) licensed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bot, ok := s.loadBot(w, r)
		if !ok {
			return
		}
		if !bot.License.Usable(s.now()) {
			s.writeStatus(w, http.StatusForbidden, "license is not active")
			return
		}
		next(w, r)
	}
}

func (s *Server) loadBot(w http.ResponseWriter, r *http.Request) (*domain.BotProfile, bool) {
	id, err := botID(r)
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, "invalid bot id")
		return nil, false
	}
	bot, err := s.uc.Bot.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return bot, true
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (domain.ConversationKey, bool) {
	vars := mux.Vars(r)
	id, err := botID(r)
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, "invalid bot id")
		return domain.ConversationKey{}, false
	}
	ch, err := domain.ParseChannel(vars["channel"])
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, err.Error())
		return domain.ConversationKey{}, false
	}
	return domain.ConversationKey{BotID: id, Channel: ch, CustomerID: vars["customer"]}, true
}

func botID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v); err != nil {
		s.writeStatus(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repo.ErrBotNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrNoPendingAction):
		status = http.StatusConflict
	default:
		s.logger.Error("[API] request failed", zap.Error(err))
	}
	s.writeStatus(w, status, err.Error())
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
