package data

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
)

type storeFactory func(t *testing.T) (repo.BotRepo, repo.HistoryRepo)

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) (repo.BotRepo, repo.HistoryRepo) {
			return NewMemoryBotRepo(), NewMemoryHistoryRepo()
		},
		"sqlite": func(t *testing.T) (repo.BotRepo, repo.HistoryRepo) {
			path := filepath.Join(t.TempDir(), "rawbot.db")
			bots, err := NewSQLiteBotRepo(path)
			require.NoError(t, err)
			bots.(*sqliteBotRepo).watchInterval = 10 * time.Millisecond
			history, err := NewSQLiteHistoryRepo(path)
			require.NoError(t, err)
			t.Cleanup(func() {
				bots.Close()
				history.Close()
			})
			return bots, history
		},
	}
}

func newTestBot() *domain.BotProfile {
	return &domain.BotProfile{
		BotName:   "نورة",
		StoreName: "متجر الورد",
		ToneValue: 40,
		Language:  domain.LanguageArabic,
		IsActive:  true,
		Instagram: domain.InstagramChannel{Connected: true, BusinessID: "ig-biz-1", AccessToken: "tok"},
		WhatsApp:  domain.WhatsAppChannel{PhoneNumberID: "wa-phone-1", AccessToken: "watok"},
	}
}

func TestBotRepo_SaveAndGet(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			bot.LearnedObservations = []string{"التوصيل مجاني"}
			require.NoError(t, bots.Save(ctx, bot))
			require.NotZero(t, bot.ID)

			got, err := bots.Get(ctx, bot.ID)
			require.NoError(t, err)
			assert.Equal(t, "نورة", got.BotName)
			assert.Equal(t, "ig-biz-1", got.Instagram.BusinessID)
			assert.True(t, got.IsActive)
			assert.False(t, got.IsListening)
			assert.Equal(t, []string{"التوصيل مجاني"}, got.LearnedObservations)

			_, err = bots.Get(ctx, 999)
			assert.ErrorIs(t, err, repo.ErrBotNotFound)
		})
	}
}

func TestBotRepo_SaveKeepsFlags(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))

			ok, err := bots.CompareAndSetFlags(ctx, bot.ID, domain.Flags{IsActive: true}, domain.Flags{IsActive: false, IsListening: true})
			require.NoError(t, err)
			require.True(t, ok)

			bot.StoreName = "متجر جديد"
			bot.IsActive = true
			require.NoError(t, bots.Save(ctx, bot))

			got, err := bots.Get(ctx, bot.ID)
			require.NoError(t, err)
			assert.Equal(t, "متجر جديد", got.StoreName)
			assert.Equal(t, domain.Flags{IsActive: false, IsListening: true}, got.Flags())
		})
	}
}

func TestBotRepo_FindByChannel(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))

			got, err := bots.FindByChannel(ctx, domain.ChannelInstagram, "ig-biz-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, bot.ID, got.ID)

			got, err = bots.FindByChannel(ctx, domain.ChannelWhatsApp, "wa-phone-1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, bot.ID, got.ID)

			got, err = bots.FindByChannel(ctx, domain.ChannelInstagram, "nobody")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestBotRepo_CompareAndSetFlags(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))

			ok, err := bots.CompareAndSetFlags(ctx, bot.ID, domain.Flags{IsActive: false}, domain.Flags{IsActive: true, IsListening: true})
			require.NoError(t, err)
			assert.False(t, ok, "stale expectation must not swap")

			ok, err = bots.CompareAndSetFlags(ctx, bot.ID, domain.Flags{IsActive: true}, domain.Flags{IsActive: false})
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = bots.CompareAndSetFlags(ctx, 999, domain.Flags{}, domain.Flags{})
			assert.ErrorIs(t, err, repo.ErrBotNotFound)
		})
	}
}

func TestBotRepo_CompareAndSetFlagsConcurrent(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := bots.CompareAndSetFlags(ctx, bot.ID, domain.Flags{IsActive: true}, domain.Flags{IsActive: false})
					if err == nil && ok {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, wins)
		})
	}
}

func TestBotRepo_PendingActionSlot(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))
			conv := domain.ConversationKey{BotID: bot.ID, Channel: domain.ChannelInstagram, CustomerID: "c1"}

			first := domain.NewPendingAction(domain.ActionDiscountRequest, "خصم؟", conv, time.Now())
			prev, err := bots.SetPendingAction(ctx, bot.ID, first)
			require.NoError(t, err)
			assert.Nil(t, prev)

			second := domain.NewPendingAction(domain.ActionUnknownQuery, "", conv, time.Now())
			prev, err = bots.SetPendingAction(ctx, bot.ID, second)
			require.NoError(t, err)
			require.NotNil(t, prev)
			assert.Equal(t, first.ID, prev.ID)

			got, err := bots.Get(ctx, bot.ID)
			require.NoError(t, err)
			require.NotNil(t, got.PendingAction)
			assert.Equal(t, second.ID, got.PendingAction.ID)
			assert.Equal(t, "استفسار", got.PendingAction.UserMessage)
			assert.Equal(t, conv, got.PendingAction.Conversation)

			ok, err := bots.ClearPendingAction(ctx, bot.ID, first.ID)
			require.NoError(t, err)
			assert.False(t, ok, "clearing a replaced action is a no-op")

			ok, err = bots.ClearPendingAction(ctx, bot.ID, second.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = bots.ClearPendingAction(ctx, bot.ID, second.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			got, err = bots.Get(ctx, bot.ID)
			require.NoError(t, err)
			assert.Nil(t, got.PendingAction)
		})
	}
}

func TestBotRepo_AppendObservation(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))

			for _, obs := range []string{"a", "b", "a", "c"} {
				_, err := bots.AppendObservation(ctx, bot.ID, obs)
				require.NoError(t, err)
			}
			added, err := bots.AppendObservation(ctx, bot.ID, "b")
			require.NoError(t, err)
			assert.False(t, added)

			added, err = bots.AppendObservation(ctx, bot.ID, "  d \n")
			require.NoError(t, err)
			assert.True(t, added)
			added, err = bots.AppendObservation(ctx, bot.ID, "d")
			require.NoError(t, err)
			assert.False(t, added)
			added, err = bots.AppendObservation(ctx, bot.ID, "   ")
			require.NoError(t, err)
			assert.False(t, added)

			got, err := bots.Get(ctx, bot.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c", "d"}, got.LearnedObservations)
		})
	}
}

func TestNewObservation(t *testing.T) {
	obs, ok := newObservation([]string{"a"}, "  b \n")
	assert.True(t, ok)
	assert.Equal(t, "b", obs)

	_, ok = newObservation([]string{"a", "b"}, " b ")
	assert.False(t, ok)

	_, ok = newObservation(nil, "  ")
	assert.False(t, ok)
}

func TestBotRepo_Watch(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			bots, _ := factory(t)

			bot := newTestBot()
			require.NoError(t, bots.Save(ctx, bot))

			ch, err := bots.Watch(ctx, bot.ID)
			require.NoError(t, err)

			initial := <-ch
			assert.True(t, initial.IsActive)

			_, err = bots.CompareAndSetFlags(ctx, bot.ID, domain.Flags{IsActive: true}, domain.Flags{IsActive: true, IsListening: true})
			require.NoError(t, err)

			select {
			case got := <-ch:
				assert.True(t, got.IsListening)
				assert.Greater(t, got.Version, initial.Version)
			case <-time.After(2 * time.Second):
				t.Fatal("no change observed")
			}

			cancel()
			require.Eventually(t, func() bool {
				select {
				case _, open := <-ch:
					return !open
				default:
					return false
				}
			}, 2*time.Second, 10*time.Millisecond)

			_, err = bots.Watch(context.Background(), 999)
			assert.ErrorIs(t, err, repo.ErrBotNotFound)
		})
	}
}

func TestHistoryRepo_Recent(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, history := factory(t)

			conv := domain.ConversationKey{BotID: 1, Channel: domain.ChannelWhatsApp, CustomerID: "966500000000"}
			other := domain.ConversationKey{BotID: 1, Channel: domain.ChannelWhatsApp, CustomerID: "other"}
			base := time.Now().Add(-time.Hour)

			for i, text := range []string{"m1", "m2", "m3", "m4"} {
				msg := domain.NewMessage(conv, domain.SenderCustomer, text, base.Add(time.Duration(i)*time.Minute))
				require.NoError(t, history.Append(ctx, msg))
			}
			require.NoError(t, history.Append(ctx, domain.NewMessage(other, domain.SenderCustomer, "x", base)))

			img := domain.NewMessage(conv, domain.SenderCustomer, "", base.Add(10*time.Minute))
			img.Image = &domain.Image{Data: []byte{0xff, 0xd8}, MimeType: "image/jpeg"}
			require.NoError(t, history.Append(ctx, img))

			msgs, err := history.Recent(ctx, conv, 3)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, "m3", msgs[0].Text)
			assert.Equal(t, "m4", msgs[1].Text)
			require.NotNil(t, msgs[2].Image)
			assert.Equal(t, "image/jpeg", msgs[2].Image.MimeType)

			all, err := history.Recent(ctx, conv, 0)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

func TestHistoryRepo_MarkDelivered(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, history := factory(t)

			conv := domain.ConversationKey{BotID: 2, Channel: domain.ChannelInstagram, CustomerID: "c"}
			msg := domain.NewMessage(conv, domain.SenderBot, "أهلاً", time.Now())
			require.NoError(t, history.Append(ctx, msg))
			require.NoError(t, history.MarkDelivered(ctx, conv, msg.ID))

			msgs, err := history.Recent(ctx, conv, 10)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].Delivered)
			assert.Equal(t, domain.SenderBot, msgs[0].Sender)
		})
	}
}
