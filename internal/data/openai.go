package data

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rawbot-ai/rawbot/internal/biz/domain"
	"github.com/rawbot-ai/rawbot/internal/biz/repo"
	"github.com/rawbot-ai/rawbot/internal/conf"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openAIRepo implements the LLM repository on any OpenAI-compatible API
type openAIRepo struct {
	client *openai.Client
	model  string
}

// NewOpenAIRepo creates an OpenAI-compatible LLM repository
func NewOpenAIRepo(cfg conf.LLMConfig) (repo.LLMRepo, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}

	config := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		config.BaseURL = cfg.OpenAIBaseURL
	}

	return &openAIRepo{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Generate runs one chat turn
func (r *openAIRepo) Generate(ctx context.Context, req *repo.GenerateRequest) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstruction})
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Sender == domain.SenderBot {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, userTurn(req.Text, req.Image))

	return r.chat(ctx, msgs)
}

// Complete runs a standalone prompt
func (r *openAIRepo) Complete(ctx context.Context, prompt string) (string, error) {
	return r.chat(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	})
}

func (r *openAIRepo) chat(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    msgs,
		Temperature: 0.7,
		TopP:        0.95,
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func userTurn(text string, img *domain.Image) openai.ChatCompletionMessage {
	if img == nil || len(img.Data) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	parts := []openai.ChatMessagePart{}
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL: "data:" + img.MimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
		},
	})
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai: %s: %w", apiErr.Message, repo.ErrQuotaExceeded)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("openai: %w", repo.ErrQuotaExceeded)
	}
	return fmt.Errorf("chat completion: %w", err)
}
