package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// FirestoreStore holds the shared Firestore client behind the bot and
// history repositories
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a Firestore store for the given project
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Bots returns the bot repository
func (s *FirestoreStore) Bots() repo.BotRepo {
	return &firestoreBotRepo{client: s.client}
}

// History returns the history repository
func (s *FirestoreStore) History() repo.HistoryRepo {
	return &firestoreHistoryRepo{client: s.client}
}

// Close closes the client
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type botDoc struct {
	botRecord
	IsActive            bool              `firestore:"isActive"`
	IsListening         bool              `firestore:"isListening"`
	LearnedObservations []string          `firestore:"learnedObservations"`
	PendingAction       *pendingActionDoc `firestore:"pendingAction"`
	Version             int64             `firestore:"version"`
	UpdatedAt           time.Time         `firestore:"updatedAt"`
}

type pendingActionDoc struct {
	ID           string    `firestore:"id"`
	Type         string    `firestore:"type"`
	UserMessage  string    `firestore:"userMessage"`
	CreatedAt    time.Time `firestore:"createdAt"`
	Channel      string    `firestore:"channel"`
	CustomerID   string    `firestore:"customerId"`
	Conversation int64     `firestore:"botId"`
}

type messageDoc struct {
	Sender     string    `firestore:"sender"`
	Text       string    `firestore:"text"`
	ImageMime  string    `firestore:"imageMime,omitempty"`
	Image      []byte    `firestore:"image,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	Delivered  bool      `firestore:"delivered"`
	BotID      int64     `firestore:"botId"`
	Channel    string    `firestore:"channel"`
	CustomerID string    `firestore:"customerId"`
}

func toPendingDoc(a *domain.PendingAction) *pendingActionDoc {
	if a == nil {
		return nil
	}
	return &pendingActionDoc{
		ID:           a.ID,
		Type:         string(a.Type),
		UserMessage:  a.UserMessage,
		CreatedAt:    a.CreatedAt,
		Channel:      string(a.Conversation.Channel),
		CustomerID:   a.Conversation.CustomerID,
		Conversation: a.Conversation.BotID,
	}
}

func (d *pendingActionDoc) toDomain() *domain.PendingAction {
	if d == nil || d.ID == "" {
		return nil
	}
	return &domain.PendingAction{
		ID:          d.ID,
		Type:        domain.ActionType(d.Type),
		UserMessage: d.UserMessage,
		CreatedAt:   d.CreatedAt,
		Conversation: domain.ConversationKey{
			BotID:      d.Conversation,
			Channel:    domain.Channel(d.Channel),
			CustomerID: d.CustomerID,
		},
	}
}

func decodeBot(snap *firestore.DocumentSnapshot) (*domain.BotProfile, error) {
	var doc botDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode botDoc: %w", err)
	}
	id, err := strconv.ParseInt(snap.Ref.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad bot document id %q: %w", snap.Ref.ID, err)
	}

	bot := &domain.BotProfile{
		ID:                  id,
		IsActive:            doc.IsActive,
		IsListening:         doc.IsListening,
		LearnedObservations: doc.LearnedObservations,
		PendingAction:       doc.PendingAction.toDomain(),
		Version:             doc.Version,
		UpdatedAt:           doc.UpdatedAt,
	}
	doc.botRecord.apply(bot)
	return bot, nil
}

// ─────────────────────────────────────────
// BotRepo implementation
// ─────────────────────────────────────────

type firestoreBotRepo struct {
	client *firestore.Client
}

func (r *firestoreBotRepo) botsCol() *firestore.CollectionRef {
	return r.client.Collection("bots")
}

func (r *firestoreBotRepo) botDoc(id int64) *firestore.DocumentRef {
	return r.botsCol().Doc(strconv.FormatInt(id, 10))
}

func (r *firestoreBotRepo) Get(ctx context.Context, id int64) (*domain.BotProfile, error) {
	snap, err := r.botDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, repo.ErrBotNotFound
		}
		return nil, fmt.Errorf("firestore GetBot: %w", err)
	}
	return decodeBot(snap)
}

func (r *firestoreBotRepo) FindByChannel(ctx context.Context, ch domain.Channel, identifier string) (*domain.BotProfile, error) {
	var path string
	switch ch {
	case domain.ChannelInstagram:
		path = "instagram.businessId"
	case domain.ChannelWhatsApp:
		path = "whatsapp.phoneNumberId"
	default:
		return nil, nil
	}
	if identifier == "" {
		return nil, nil
	}

	iter := r.botsCol().Where(path, "==", identifier).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore FindByChannel: %w", err)
	}
	return decodeBot(snap)
}

func (r *firestoreBotRepo) List(ctx context.Context) ([]*domain.BotProfile, error) {
	iter := r.botsCol().Documents(ctx)
	defer iter.Stop()

	var out []*domain.BotProfile
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListBots: %w", err)
		}
		bot, err := decodeBot(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, bot)
	}
	return out, nil
}

// Save writes profile fields. New bots need a caller-assigned id.
func (r *firestoreBotRepo) Save(ctx context.Context, bot *domain.BotProfile) error {
	if bot.ID == 0 {
		id, err := r.nextID(ctx)
		if err != nil {
			return err
		}
		bot.ID = id
	}
	ref := r.botDoc(bot.ID)
	rec := toBotRecord(bot)

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return fmt.Errorf("firestore SaveBot read: %w", err)
		}
		if snap == nil || !snap.Exists() {
			return tx.Create(ref, botDoc{
				botRecord:           rec,
				IsActive:            bot.IsActive,
				IsListening:         bot.IsListening,
				LearnedObservations: bot.LearnedObservations,
				PendingAction:       toPendingDoc(bot.PendingAction),
				Version:             1,
				UpdatedAt:           time.Now(),
			})
		}

		updates := []firestore.Update{
			{Path: "botName", Value: rec.BotName},
			{Path: "storeName", Value: rec.StoreName},
			{Path: "businessType", Value: rec.BusinessType},
			{Path: "location", Value: rec.Location},
			{Path: "locationUrl", Value: rec.LocationURL},
			{Path: "country", Value: rec.Country},
			{Path: "workHours", Value: rec.WorkHours},
			{Path: "toneValue", Value: rec.ToneValue},
			{Path: "language", Value: rec.Language},
			{Path: "useEmoji", Value: rec.UseEmoji},
			{Path: "products", Value: rec.Products},
			{Path: "additionalInfo", Value: rec.AdditionalInfo},
			{Path: "knowledgeBase", Value: rec.KnowledgeBase},
			{Path: "instagram", Value: rec.Instagram},
			{Path: "whatsapp", Value: rec.WhatsApp},
			{Path: "license", Value: rec.License},
			{Path: "version", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: time.Now()},
		}
		if len(bot.LearnedObservations) > 0 {
			updates = append(updates, firestore.Update{Path: "learnedObservations", Value: firestore.ArrayUnion(toAny(bot.LearnedObservations)...)})
		}
		return tx.Update(ref, updates)
	})
}

func (r *firestoreBotRepo) nextID(ctx context.Context) (int64, error) {
	counter := r.client.Collection("counters").Doc("bots")
	var id int64
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(counter)
		var last int64
		if err == nil {
			if v, err := snap.DataAt("last"); err == nil {
				last, _ = v.(int64)
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		id = last + 1
		return tx.Set(counter, map[string]interface{}{"last": id})
	})
	if err != nil {
		return 0, fmt.Errorf("firestore allocate bot id: %w", err)
	}
	return id, nil
}

func (r *firestoreBotRepo) CompareAndSetFlags(ctx context.Context, id int64, expected, next domain.Flags) (bool, error) {
	ref := r.botDoc(id)
	var swapped bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		swapped = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc botDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.IsActive != expected.IsActive || doc.IsListening != expected.IsListening {
			return nil
		}
		swapped = true
		return tx.Update(ref, []firestore.Update{
			{Path: "isActive", Value: next.IsActive},
			{Path: "isListening", Value: next.IsListening},
			{Path: "version", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, repo.ErrBotNotFound
		}
		return false, fmt.Errorf("firestore CompareAndSetFlags: %w", err)
	}
	return swapped, nil
}

func (r *firestoreBotRepo) SetPendingAction(ctx context.Context, id int64, action *domain.PendingAction) (*domain.PendingAction, error) {
	ref := r.botDoc(id)
	var prev *domain.PendingAction
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc botDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		prev = doc.PendingAction.toDomain()
		return tx.Update(ref, []firestore.Update{
			{Path: "pendingAction", Value: toPendingDoc(action)},
			{Path: "version", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, repo.ErrBotNotFound
		}
		return nil, fmt.Errorf("firestore SetPendingAction: %w", err)
	}
	return prev, nil
}

func (r *firestoreBotRepo) ClearPendingAction(ctx context.Context, id int64, expectedID string) (bool, error) {
	ref := r.botDoc(id)
	var cleared bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cleared = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc botDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.PendingAction == nil || doc.PendingAction.ID != expectedID {
			return nil
		}
		cleared = true
		return tx.Update(ref, []firestore.Update{
			{Path: "pendingAction", Value: nil},
			{Path: "version", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, repo.ErrBotNotFound
		}
		return false, fmt.Errorf("firestore ClearPendingAction: %w", err)
	}
	return cleared, nil
}

// newObservation returns the normalized observation when it is not yet in list
func newObservation(list []string, observation string) (string, bool) {
	out, ok := domain.AppendObservation(list, observation)
	if !ok {
		return "", false
	}
	return out[len(out)-1], true
}

func (r *firestoreBotRepo) AppendObservation(ctx context.Context, id int64, observation string) (bool, error) {
	ref := r.botDoc(id)
	var added bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		added = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc botDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		obs, ok := newObservation(doc.LearnedObservations, observation)
		if !ok {
			return nil
		}
		added = true
		return tx.Update(ref, []firestore.Update{
			{Path: "learnedObservations", Value: firestore.ArrayUnion(obs)},
			{Path: "version", Value: firestore.Increment(1)},
			{Path: "updatedAt", Value: time.Now()},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, repo.ErrBotNotFound
		}
		return false, fmt.Errorf("firestore AppendObservation: %w", err)
	}
	return added, nil
}

// Watch streams document snapshots until ctx is done
func (r *firestoreBotRepo) Watch(ctx context.Context, id int64) (<-chan *domain.BotProfile, error) {
	it := r.botDoc(id).Snapshots(ctx)
	snap, err := it.Next()
	if err != nil {
		it.Stop()
		return nil, fmt.Errorf("firestore Watch: %w", err)
	}
	if !snap.Exists() {
		it.Stop()
		return nil, repo.ErrBotNotFound
	}
	first, err := decodeBot(snap)
	if err != nil {
		it.Stop()
		return nil, err
	}

	ch := make(chan *domain.BotProfile, 1)
	ch <- first
	go func() {
		defer close(ch)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				// canceled context or stopped iterator ends the stream
				return
			}
			if !snap.Exists() {
				return
			}
			bot, err := decodeBot(snap)
			if err != nil {
				continue
			}
			select {
			case ch <- bot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *firestoreBotRepo) Close() error { return nil }

// ─────────────────────────────────────────
// HistoryRepo implementation
// ─────────────────────────────────────────

type firestoreHistoryRepo struct {
	client *firestore.Client
}

func (r *firestoreHistoryRepo) messagesCol(conv domain.ConversationKey) *firestore.CollectionRef {
	return r.client.Collection("conversations").Doc(conv.String()).Collection("messages")
}

func (r *firestoreHistoryRepo) Append(ctx context.Context, msg *domain.Message) error {
	doc := messageDoc{
		Sender:     string(msg.Sender),
		Text:       msg.Text,
		CreatedAt:  msg.CreatedAt,
		Delivered:  msg.Delivered,
		BotID:      msg.Conversation.BotID,
		Channel:    string(msg.Conversation.Channel),
		CustomerID: msg.Conversation.CustomerID,
	}
	if msg.Image != nil {
		doc.ImageMime, doc.Image = msg.Image.MimeType, msg.Image.Data
	}
	if _, err := r.messagesCol(msg.Conversation).Doc(msg.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

func (r *firestoreHistoryRepo) MarkDelivered(ctx context.Context, conv domain.ConversationKey, msgID string) error {
	_, err := r.messagesCol(conv).Doc(msgID).Update(ctx, []firestore.Update{{Path: "delivered", Value: true}})
	if err != nil {
		return fmt.Errorf("firestore MarkDelivered: %w", err)
	}
	return nil
}

func (r *firestoreHistoryRepo) Recent(ctx context.Context, conv domain.ConversationKey, limit int) ([]domain.Message, error) {
	q := r.messagesCol(conv).OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore RecentMessages: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}
		msg := domain.Message{
			ID:           snap.Ref.ID,
			Conversation: conv,
			Sender:       domain.Sender(doc.Sender),
			Text:         doc.Text,
			CreatedAt:    doc.CreatedAt,
			Delivered:    doc.Delivered,
		}
		if doc.ImageMime != "" {
			msg.Image = &domain.Image{Data: doc.Image, MimeType: doc.ImageMime}
		}
		out = append(out, msg)
	}

	// Reverse to chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *firestoreHistoryRepo) Close() error { return nil }

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
