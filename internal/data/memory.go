package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

// memoryBotRepo is an in-process bot repository for development and tests
type memoryBotRepo struct {
	mu       sync.Mutex
	bots     map[int64]*domain.BotProfile
	nextID   int64
	watchers map[int64][]chan *domain.BotProfile
}

// NewMemoryBotRepo creates an empty in-memory bot repository
func NewMemoryBotRepo() repo.BotRepo {
	return &memoryBotRepo{
		bots:     make(map[int64]*domain.BotProfile),
		watchers: make(map[int64][]chan *domain.BotProfile),
	}
}

func cloneBot(b *domain.BotProfile) *domain.BotProfile {
	cp := *b
	cp.LearnedObservations = append([]string(nil), b.LearnedObservations...)
	if b.PendingAction != nil {
		pa := *b.PendingAction
		cp.PendingAction = &pa
	}
	return &cp
}

func (r *memoryBotRepo) Get(ctx context.Context, id int64) (*domain.BotProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[id]
	if !ok {
		return nil, repo.ErrBotNotFound
	}
	return cloneBot(b), nil
}

func (r *memoryBotRepo) FindByChannel(ctx context.Context, ch domain.Channel, identifier string) (*domain.BotProfile, error) {
	if identifier == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.BotProfile
	for _, b := range r.bots {
		if b.ChannelIdentifier(ch) == identifier && (found == nil || b.ID < found.ID) {
			found = b
		}
	}
	if found == nil {
		return nil, nil
	}
	return cloneBot(found), nil
}

func (r *memoryBotRepo) List(ctx context.Context) ([]*domain.BotProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.BotProfile, 0, len(r.bots))
	for _, b := range r.bots {
		out = append(out, cloneBot(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryBotRepo) Save(ctx context.Context, bot *domain.BotProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bot.ID == 0 {
		r.nextID++
		bot.ID = r.nextID
	}
	if bot.ID > r.nextID {
		r.nextID = bot.ID
	}
	if bot.UpdatedAt.IsZero() {
		bot.UpdatedAt = time.Now()
	}

	stored := cloneBot(bot)
	if prev, ok := r.bots[bot.ID]; ok {
		stored.IsActive, stored.IsListening = prev.IsActive, prev.IsListening
		stored.PendingAction = prev.PendingAction
		obs := prev.LearnedObservations
		for _, o := range bot.LearnedObservations {
			obs, _ = domain.AppendObservation(obs, o)
		}
		stored.LearnedObservations = obs
		stored.Version = prev.Version
	}
	r.bots[bot.ID] = stored
	r.changedLocked(stored)
	return nil
}

func (r *memoryBotRepo) CompareAndSetFlags(ctx context.Context, id int64, expected, next domain.Flags) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[id]
	if !ok {
		return false, repo.ErrBotNotFound
	}
	if b.Flags() != expected {
		return false, nil
	}
	b.IsActive, b.IsListening = next.IsActive, next.IsListening
	r.changedLocked(b)
	return true, nil
}

func (r *memoryBotRepo) SetPendingAction(ctx context.Context, id int64, action *domain.PendingAction) (*domain.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[id]
	if !ok {
		return nil, repo.ErrBotNotFound
	}
	prev := b.PendingAction
	if action != nil {
		cp := *action
		action = &cp
	}
	b.PendingAction = action
	r.changedLocked(b)
	return prev, nil
}

func (r *memoryBotRepo) ClearPendingAction(ctx context.Context, id int64, expectedID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[id]
	if !ok {
		return false, repo.ErrBotNotFound
	}
	if b.PendingAction == nil || b.PendingAction.ID != expectedID {
		return false, nil
	}
	b.PendingAction = nil
	r.changedLocked(b)
	return true, nil
}

func (r *memoryBotRepo) AppendObservation(ctx context.Context, id int64, observation string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bots[id]
	if !ok {
		return false, repo.ErrBotNotFound
	}
	var added bool
	b.LearnedObservations, added = domain.AppendObservation(b.LearnedObservations, observation)
	if added {
		r.changedLocked(b)
	}
	return added, nil
}

// Watch emits the current bot, then every change until ctx is done.
// Slow watchers only ever see the latest state.
func (r *memoryBotRepo) Watch(ctx context.Context, id int64) (<-chan *domain.BotProfile, error) {
	r.mu.Lock()
	b, ok := r.bots[id]
	if !ok {
		r.mu.Unlock()
		return nil, repo.ErrBotNotFound
	}
	ch := make(chan *domain.BotProfile, 1)
	ch <- cloneBot(b)
	r.watchers[id] = append(r.watchers[id], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.watchers[id]
		for i, w := range list {
			if w == ch {
				r.watchers[id] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

func (r *memoryBotRepo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, list := range r.watchers {
		for _, ch := range list {
			close(ch)
		}
		delete(r.watchers, id)
	}
	return nil
}

func (r *memoryBotRepo) changedLocked(b *domain.BotProfile) {
	b.Version++
	b.UpdatedAt = time.Now()
	for _, ch := range r.watchers[b.ID] {
		// drop a stale pending update in favour of the latest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cloneBot(b):
		default:
		}
	}
}

// memoryHistoryRepo keeps conversation history in process
type memoryHistoryRepo struct {
	mu       sync.Mutex
	messages map[domain.ConversationKey][]domain.Message
}

// NewMemoryHistoryRepo creates an empty in-memory history repository
func NewMemoryHistoryRepo() repo.HistoryRepo {
	return &memoryHistoryRepo{messages: make(map[domain.ConversationKey][]domain.Message)}
}

func (r *memoryHistoryRepo) Append(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.Conversation] = append(r.messages[msg.Conversation], *msg)
	return nil
}

func (r *memoryHistoryRepo) MarkDelivered(ctx context.Context, conv domain.ConversationKey, msgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[conv]
	for i := range msgs {
		if msgs[i].ID == msgID {
			msgs[i].Delivered = true
			return nil
		}
	}
	return nil
}

func (r *memoryHistoryRepo) Recent(ctx context.Context, conv domain.ConversationKey, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[conv]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (r *memoryHistoryRepo) Close() error { return nil }
