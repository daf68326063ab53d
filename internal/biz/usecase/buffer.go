package usecase

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
)

// BufferConfig contains debounce window configuration
type BufferConfig struct {
	TextDelay  time.Duration // wait after a text-only input
	ImageDelay time.Duration // wait when the buffer holds an image
}

// DefaultBufferConfig returns default buffer configuration
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		TextDelay:  3 * time.Second,
		ImageDelay: 8 * time.Second,
	}
}

// FlushFunc receives a drained, non-empty batch
type FlushFunc func(batch *domain.Batch)

// BufferUsecase coalesces rapid customer inputs per conversation
type BufferUsecase struct {
	config    BufferConfig
	scheduler *Scheduler
	logger    *zap.Logger

	mu      sync.Mutex
	buffers map[string]*conversationBuffer
	onFlush FlushFunc
}

// conversationBuffer is evicted once it is empty and no flush holds or
// waits on it, so its flush lock is never split between two instances
type conversationBuffer struct {
	key          domain.ConversationKey
	items        []domain.BufferItem
	prevActivity time.Time
	caller       *domain.CustomerProfile
	flushMu      sync.Mutex
	flushers     int // guarded by BufferUsecase.mu
}

// NewBufferUsecase creates a new buffer usecase
func NewBufferUsecase(config BufferConfig, logger *zap.Logger) *BufferUsecase {
	return &BufferUsecase{
		config:    config,
		scheduler: NewScheduler(),
		logger:    logger,
		buffers:   make(map[string]*conversationBuffer),
	}
}

// SetFlushHandler sets the callback invoked with each drained batch
func (uc *BufferUsecase) SetFlushHandler(fn FlushFunc) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.onFlush = fn
}

// Add appends an input and re-arms the conversation's flush.
// prevActivity is the last history message time before this input and is
// only recorded when the input opens a new batch.
func (uc *BufferUsecase) Add(key domain.ConversationKey, item domain.BufferItem, prevActivity time.Time, caller *domain.CustomerProfile) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	buf := uc.bufferLocked(key)
	if len(buf.items) == 0 {
		buf.prevActivity = prevActivity
	}
	if caller != nil {
		buf.caller = caller
	}
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = time.Now()
	}
	buf.items = append(buf.items, item)

	delay := uc.config.TextDelay
	if domain.ContainsImage(buf.items) {
		delay = uc.config.ImageDelay
	}
	uc.scheduler.Schedule(key.String(), delay, func() { uc.Flush(key) })

	uc.logger.Debug("buffered input",
		zap.String("conversation", key.String()),
		zap.Int("items", len(buf.items)),
		zap.Duration("delay", delay))
}

// Flush drains the buffer and hands the batch to the flush handler.
// Flushes of one conversation never overlap.
func (uc *BufferUsecase) Flush(key domain.ConversationKey) {
	uc.mu.Lock()
	buf := uc.bufferLocked(key)
	buf.flushers++
	handler := uc.onFlush
	uc.mu.Unlock()

	buf.flushMu.Lock()
	defer func() {
		buf.flushMu.Unlock()
		uc.mu.Lock()
		buf.flushers--
		uc.evictLocked(buf)
		uc.mu.Unlock()
	}()

	batch, ok := uc.Drain(key)
	if !ok || handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("flush panicked",
				zap.String("conversation", key.String()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	handler(batch)
}

// Drain atomically empties the buffer. It reports false when there was nothing buffered.
func (uc *BufferUsecase) Drain(key domain.ConversationKey) (*domain.Batch, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	buf, ok := uc.buffers[key.String()]
	if !ok || len(buf.items) == 0 {
		return nil, false
	}
	batch := &domain.Batch{
		Key:          key,
		Items:        buf.items,
		PrevActivity: buf.prevActivity,
		Caller:       buf.caller,
	}
	buf.items = nil
	buf.prevActivity = time.Time{}
	uc.evictLocked(buf)
	return batch, true
}

// Cancel discards buffered input and the pending flush for a conversation
func (uc *BufferUsecase) Cancel(key domain.ConversationKey) int {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.scheduler.Cancel(key.String())
	buf, ok := uc.buffers[key.String()]
	if !ok {
		return 0
	}
	n := len(buf.items)
	buf.items = nil
	buf.prevActivity = time.Time{}
	uc.evictLocked(buf)
	return n
}

// Len returns the number of buffered items for a conversation
func (uc *BufferUsecase) Len(key domain.ConversationKey) int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if buf, ok := uc.buffers[key.String()]; ok {
		return len(buf.items)
	}
	return 0
}

// Pending reports whether a flush is scheduled for a conversation
func (uc *BufferUsecase) Pending(key domain.ConversationKey) bool {
	return uc.scheduler.Pending(key.String())
}

// Stop cancels all scheduled flushes and waits for running ones
func (uc *BufferUsecase) Stop() {
	uc.scheduler.Stop()
}

// evictLocked forgets an idle conversation
func (uc *BufferUsecase) evictLocked(buf *conversationBuffer) {
	k := buf.key.String()
	if buf.flushers > 0 || len(buf.items) > 0 || uc.scheduler.Pending(k) {
		return
	}
	if uc.buffers[k] == buf {
		delete(uc.buffers, k)
	}
}

func (uc *BufferUsecase) bufferLocked(key domain.ConversationKey) *conversationBuffer {
	buf, ok := uc.buffers[key.String()]
	if !ok {
		buf = &conversationBuffer{key: key}
		uc.buffers[key.String()] = buf
	}
	return buf
}
