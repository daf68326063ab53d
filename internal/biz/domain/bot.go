package domain

import "time"

// LanguageMode selects which language(s) the bot replies in
type LanguageMode string

const (
	LanguageArabic    LanguageMode = "ar" // primary language only
	LanguageEnglish   LanguageMode = "en" // foreign language only
	LanguageBilingual LanguageMode = "bi" // match the customer
)

// Tone register thresholds (inclusive)
const (
	ToneCasualMax  = 25
	ToneFormalMin  = 75
	DefaultTone    = 50
	ReturningHours = 48
)

// ToneRegister is the persona register derived from the tone value
type ToneRegister string

const (
	ToneCasual   ToneRegister = "casual"
	ToneBalanced ToneRegister = "balanced"
	ToneFormal   ToneRegister = "formal"
)

// RegisterFor maps a continuous tone value onto its register
func RegisterFor(toneValue int) ToneRegister {
	switch {
	case toneValue <= ToneCasualMax:
		return ToneCasual
	case toneValue >= ToneFormalMin:
		return ToneFormal
	default:
		return ToneBalanced
	}
}

// BotProfile is one tenant's assistant persona and channel connections
type BotProfile struct {
	ID           int64
	BotName      string
	StoreName    string
	BusinessType string
	Location     string
	LocationURL  string
	Country      string
	WorkHours    string

	ToneValue int
	Language  LanguageMode
	UseEmoji  bool

	IsActive    bool
	IsListening bool

	Products            string
	AdditionalInfo      string
	KnowledgeBase       string // concatenated text of ingested files
	LearnedObservations []string

	Instagram InstagramChannel
	WhatsApp  WhatsAppChannel
	License   License

	PendingAction *PendingAction

	UpdatedAt time.Time
	Version   int64 // bumped on every persisted change
}

// InstagramChannel holds Instagram credentials, forwarded as-is
type InstagramChannel struct {
	Connected   bool
	AccessToken string
	BusinessID  string
	PageID      string
	UserID      string
	Username    string
}

// WhatsAppChannel holds WhatsApp Cloud API credentials, forwarded as-is
type WhatsAppChannel struct {
	Connected         bool
	PhoneNumber       string
	AccessToken       string
	BusinessAccountID string
	PhoneNumberID     string
}

// CanAutoReply reports whether the bot may send an unsupervised reply
func (b *BotProfile) CanAutoReply() bool {
	return b.IsActive && !b.IsListening
}

// Register returns the tone register of the bot
func (b *BotProfile) Register() ToneRegister {
	return RegisterFor(b.ToneValue)
}

// WithObservations returns a shallow copy carrying the given observation list
func (b *BotProfile) WithObservations(obs []string) *BotProfile {
	cp := *b
	cp.LearnedObservations = append([]string(nil), obs...)
	return &cp
}

// ChannelIdentifier returns the inbound identifier the bot is looked up by
func (b *BotProfile) ChannelIdentifier(ch Channel) string {
	switch ch {
	case ChannelInstagram:
		return b.Instagram.BusinessID
	case ChannelWhatsApp:
		return b.WhatsApp.PhoneNumberID
	}
	return ""
}

// Flags is the pair of independently toggleable operational flags
type Flags struct {
	IsActive    bool `json:"is_active"`
	IsListening bool `json:"is_listening"`
}

// Flags returns the current operational flags
func (b *BotProfile) Flags() Flags {
	return Flags{IsActive: b.IsActive, IsListening: b.IsListening}
}
