package domain

import (
	"strings"
	"time"
)

// BufferItem is one customer input waiting inside the debounce window
type BufferItem struct {
	Text       string
	Image      *Image
	ReceivedAt time.Time
}

// HasImage reports whether the item carries an image
func (i BufferItem) HasImage() bool {
	return i.Image != nil && len(i.Image.Data) > 0
}

// Batch is the drained content of a buffer, in arrival order
type Batch struct {
	Key   ConversationKey
	Items []BufferItem
	// PrevActivity is the last history message time before the batch opened
	PrevActivity time.Time
	Caller       *CustomerProfile
}

// Empty reports whether the batch holds nothing
func (b *Batch) Empty() bool {
	return len(b.Items) == 0
}

// Text joins all non-empty item texts with newlines
func (b *Batch) Text() string {
	parts := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		if it.Text != "" {
			parts = append(parts, it.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Image returns the first image of the batch; later images are dropped
func (b *Batch) Image() *Image {
	for _, it := range b.Items {
		if it.HasImage() {
			return it.Image
		}
	}
	return nil
}

// OpenedAt returns when the first item arrived
func (b *Batch) OpenedAt() time.Time {
	if len(b.Items) == 0 {
		return time.Time{}
	}
	return b.Items[0].ReceivedAt
}

// ContainsImage reports whether any item has an image
func ContainsImage(items []BufferItem) bool {
	for _, it := range items {
		if it.HasImage() {
			return true
		}
	}
	return false
}
