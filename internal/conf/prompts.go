package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rawbot-ai/rawbot/internal/biz/usecase"
)

// PromptsConfig contains all prompt configurations loaded from YAML
type PromptsConfig struct {
	Persona  string          `yaml:"persona"`
	Greeting GreetingPrompts `yaml:"greeting"`
	Tone     TonePrompts     `yaml:"tone"`
	Language LanguagePrompts `yaml:"language"`
	Emoji    EmojiPrompts    `yaml:"emoji"`
	Fallback FallbackValues  `yaml:"placeholders"`
	Bridge   BridgePrompts   `yaml:"bridge"`
	Learning LearningPrompts `yaml:"learning"`
	Replies  CannedReplies   `yaml:"replies"`
	Notes    OperatorNotes   `yaml:"notes"`
	History  HistoryConfig   `yaml:"history"`
}

// GreetingPrompts contains the greeting rule per conversation stage
type GreetingPrompts struct {
	First        string `yaml:"first"`
	Returning    string `yaml:"returning"`
	Continuation string `yaml:"continuation"`
}

// TonePrompts contains the register fragments
type TonePrompts struct {
	Casual   string `yaml:"casual"`
	Balanced string `yaml:"balanced"`
	Formal   string `yaml:"formal"`
}

// LanguagePrompts contains the language rule per mode
type LanguagePrompts struct {
	Arabic    string `yaml:"ar"`
	English   string `yaml:"en"`
	Bilingual string `yaml:"bi"`
}

// EmojiPrompts contains the emoji policy fragments
type EmojiPrompts struct {
	Allowed   string `yaml:"allowed"`
	Forbidden string `yaml:"forbidden"`
}

// FallbackValues contains substitutions for missing profile data
type FallbackValues struct {
	None                 string `yaml:"none"`
	UnknownCustomer      string `yaml:"unknown_customer"`
	ObservationSeparator string `yaml:"observation_separator"`
}

// BridgePrompts relay an owner answer back to the customer
type BridgePrompts struct {
	HotLead  string `yaml:"hot_lead"`
	Discount string `yaml:"discount"`
	Unknown  string `yaml:"unknown"`
}

// LearningPrompts contains the correction distillation prompt
type LearningPrompts struct {
	DistillPrompt   string `yaml:"distill_prompt"`
	NothingSentinel string `yaml:"nothing_sentinel"`
}

// CannedReplies are sent without a model call
type CannedReplies struct {
	Quota            string `yaml:"quota"`
	Network          string `yaml:"network"`
	QuotaEnglish     string `yaml:"quota_en"`
	NetworkEnglish   string `yaml:"network_en"`
	ImagePlaceholder string `yaml:"image_placeholder"`
	EmptyPlaceholder string `yaml:"empty_placeholder"`
}

// OperatorNotes are system notes shown to the operator
type OperatorNotes struct {
	Discount       string `yaml:"discount"`
	Unknown        string `yaml:"unknown"`
	Handoff        string `yaml:"handoff"`
	AutoDeactivate string `yaml:"auto_deactivate"`
	Learned        string `yaml:"learned"`
	MemoryUpdated  string `yaml:"memory_updated"`
	DirectiveSaved string `yaml:"directive_saved"`
}

// HistoryConfig contains history truncation settings
type HistoryConfig struct {
	MaxCount int `yaml:"max_count"`
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/rawbot/prompts.yaml",
		}
		// Add path relative to executable
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	var err error

	for _, p := range paths {
		data, err = os.ReadFile(p)
		if err == nil {
			loadedPath = p
			break
		}
	}

	// stdout belongs to the MCP transport in `rawbot mcp`
	if data == nil {
		fmt.Fprintln(os.Stderr, "[Config] No prompts.yaml found, using defaults")
		return DefaultPromptsConfig(), nil
	}

	fmt.Fprintf(os.Stderr, "[Config] Loading prompts from: %s\n", loadedPath)

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return DefaultPromptsConfig(), fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}

	// Fill in defaults for empty values
	config.fillDefaults()

	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	d := DefaultPromptsConfig()

	orDefault(&c.Persona, d.Persona)

	orDefault(&c.Greeting.First, d.Greeting.First)
	orDefault(&c.Greeting.Returning, d.Greeting.Returning)
	orDefault(&c.Greeting.Continuation, d.Greeting.Continuation)

	orDefault(&c.Tone.Casual, d.Tone.Casual)
	orDefault(&c.Tone.Balanced, d.Tone.Balanced)
	orDefault(&c.Tone.Formal, d.Tone.Formal)

	orDefault(&c.Language.Arabic, d.Language.Arabic)
	orDefault(&c.Language.English, d.Language.English)
	orDefault(&c.Language.Bilingual, d.Language.Bilingual)

	orDefault(&c.Emoji.Allowed, d.Emoji.Allowed)
	orDefault(&c.Emoji.Forbidden, d.Emoji.Forbidden)

	orDefault(&c.Fallback.None, d.Fallback.None)
	orDefault(&c.Fallback.UnknownCustomer, d.Fallback.UnknownCustomer)
	orDefault(&c.Fallback.ObservationSeparator, d.Fallback.ObservationSeparator)

	orDefault(&c.Bridge.HotLead, d.Bridge.HotLead)
	orDefault(&c.Bridge.Discount, d.Bridge.Discount)
	orDefault(&c.Bridge.Unknown, d.Bridge.Unknown)

	orDefault(&c.Learning.DistillPrompt, d.Learning.DistillPrompt)
	orDefault(&c.Learning.NothingSentinel, d.Learning.NothingSentinel)

	orDefault(&c.Replies.Quota, d.Replies.Quota)
	orDefault(&c.Replies.Network, d.Replies.Network)
	orDefault(&c.Replies.QuotaEnglish, d.Replies.QuotaEnglish)
	orDefault(&c.Replies.NetworkEnglish, d.Replies.NetworkEnglish)
	orDefault(&c.Replies.ImagePlaceholder, d.Replies.ImagePlaceholder)
	orDefault(&c.Replies.EmptyPlaceholder, d.Replies.EmptyPlaceholder)

	orDefault(&c.Notes.Discount, d.Notes.Discount)
	orDefault(&c.Notes.Unknown, d.Notes.Unknown)
	orDefault(&c.Notes.Handoff, d.Notes.Handoff)
	orDefault(&c.Notes.AutoDeactivate, d.Notes.AutoDeactivate)
	orDefault(&c.Notes.Learned, d.Notes.Learned)
	orDefault(&c.Notes.MemoryUpdated, d.Notes.MemoryUpdated)
	orDefault(&c.Notes.DirectiveSaved, d.Notes.DirectiveSaved)

	if c.History.MaxCount == 0 {
		c.History.MaxCount = d.History.MaxCount
	}
}

func orDefault(field *string, def string) {
	if *field == "" {
		*field = def
	}
}

// ToPromptConfig converts to the composer's template set
func (c *PromptsConfig) ToPromptConfig() usecase.PromptConfig {
	return usecase.PromptConfig{
		Persona:              c.Persona,
		GreetingFirst:        c.Greeting.First,
		GreetingReturning:    c.Greeting.Returning,
		GreetingContinuation: c.Greeting.Continuation,
		ToneCasual:           c.Tone.Casual,
		ToneBalanced:         c.Tone.Balanced,
		ToneFormal:           c.Tone.Formal,
		LanguageArabic:       c.Language.Arabic,
		LanguageEnglish:      c.Language.English,
		LanguageBilingual:    c.Language.Bilingual,
		EmojiAllowed:         c.Emoji.Allowed,
		EmojiForbidden:       c.Emoji.Forbidden,
		NonePlaceholder:      c.Fallback.None,
		UnknownCustomer:      c.Fallback.UnknownCustomer,
		ObservationSeparator: c.Fallback.ObservationSeparator,
		BridgeHotLead:        c.Bridge.HotLead,
		BridgeDiscount:       c.Bridge.Discount,
		BridgeUnknown:        c.Bridge.Unknown,
		DistillPrompt:        c.Learning.DistillPrompt,
		NothingSentinel:      c.Learning.NothingSentinel,
		QuotaReply:           c.Replies.Quota,
		NetworkReply:         c.Replies.Network,
		QuotaReplyEnglish:    c.Replies.QuotaEnglish,
		NetworkReplyEnglish:  c.Replies.NetworkEnglish,
		ImagePlaceholder:     c.Replies.ImagePlaceholder,
		EmptyPlaceholder:     c.Replies.EmptyPlaceholder,
		NoteDiscount:         c.Notes.Discount,
		NoteUnknown:          c.Notes.Unknown,
		NoteHandoff:          c.Notes.Handoff,
		NoteAutoDeactivate:   c.Notes.AutoDeactivate,
		NoteLearned:          c.Notes.Learned,
		NoteMemoryUpdated:    c.Notes.MemoryUpdated,
		NoteDirectiveSaved:   c.Notes.DirectiveSaved,
		MaxHistoryCount:      c.History.MaxCount,
	}
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	d := usecase.DefaultPromptConfig
	return &PromptsConfig{
		Persona: d.Persona,
		Greeting: GreetingPrompts{
			First:        d.GreetingFirst,
			Returning:    d.GreetingReturning,
			Continuation: d.GreetingContinuation,
		},
		Tone: TonePrompts{
			Casual:   d.ToneCasual,
			Balanced: d.ToneBalanced,
			Formal:   d.ToneFormal,
		},
		Language: LanguagePrompts{
			Arabic:    d.LanguageArabic,
			English:   d.LanguageEnglish,
			Bilingual: d.LanguageBilingual,
		},
		Emoji: EmojiPrompts{
			Allowed:   d.EmojiAllowed,
			Forbidden: d.EmojiForbidden,
		},
		Fallback: FallbackValues{
			None:                 d.NonePlaceholder,
			UnknownCustomer:      d.UnknownCustomer,
			ObservationSeparator: d.ObservationSeparator,
		},
		Bridge: BridgePrompts{
			HotLead:  d.BridgeHotLead,
			Discount: d.BridgeDiscount,
			Unknown:  d.BridgeUnknown,
		},
		Learning: LearningPrompts{
			DistillPrompt:   d.DistillPrompt,
			NothingSentinel: d.NothingSentinel,
		},
		Replies: CannedReplies{
			Quota:            d.QuotaReply,
			Network:          d.NetworkReply,
			QuotaEnglish:     d.QuotaReplyEnglish,
			NetworkEnglish:   d.NetworkReplyEnglish,
			ImagePlaceholder: d.ImagePlaceholder,
			EmptyPlaceholder: d.EmptyPlaceholder,
		},
		Notes: OperatorNotes{
			Discount:       d.NoteDiscount,
			Unknown:        d.NoteUnknown,
			Handoff:        d.NoteHandoff,
			AutoDeactivate: d.NoteAutoDeactivate,
			Learned:        d.NoteLearned,
			MemoryUpdated:  d.NoteMemoryUpdated,
			DirectiveSaved: d.NoteDirectiveSaved,
		},
		History: HistoryConfig{
			MaxCount: d.MaxHistoryCount,
		},
	}
}
