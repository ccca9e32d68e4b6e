package gpt

import (
	"SupportDesk/entity"
	"SupportDesk/internal/config"
	"SupportDesk/internal/lib/sl"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// historyLimit bounds how many past messages are sent as context.
const historyLimit = 20

// Responder writes bot replies for conversations the bot still handles.
type Responder struct {
	client        *openai.Client
	model         string
	systemPrompt  string
	maxTokens     int
	temperature   float32
	fallbackReply string
	keywords      []string
	handoffReply  string
	log           *slog.Logger
}

// NewResponder builds a responder from config. Without an OpenAI key it only
// answers handoff requests.
func NewResponder(conf *config.Config, logger *slog.Logger) *Responder {
	var client *openai.Client
	if conf.OpenAI.ApiKey != "" {
		client = openai.NewClient(conf.OpenAI.ApiKey)
	}
	return newResponder(client, conf, logger)
}

func newResponder(client *openai.Client, conf *config.Config, logger *slog.Logger) *Responder {
	keywords := make([]string, 0, len(conf.Conversation.HandoffKeywords))
	for _, k := range conf.Conversation.HandoffKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Responder{
		client:        client,
		model:         conf.OpenAI.Model,
		systemPrompt:  conf.OpenAI.SystemPrompt,
		maxTokens:     conf.OpenAI.MaxTokens,
		temperature:   conf.OpenAI.Temperature,
		fallbackReply: conf.OpenAI.FallbackReply,
		keywords:      keywords,
		handoffReply:  conf.Conversation.HandoffReply,
		log:           logger.With(sl.Module("gpt.responder")),
	}
}

// WantsHuman reports whether the customer asked for a person.
func (r *Responder) WantsHuman(text string) bool {
	text = strings.ToLower(text)
	for _, k := range r.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Reply answers the latest customer message in history. An empty reply
// means the bot stays silent.
func (r *Responder) Reply(ctx context.Context, history []entity.Message) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	last := history[len(history)-1]
	if last.Sender != entity.SenderCustomer {
		return "", nil
	}
	if r.WantsHuman(last.Content) {
		return r.handoffReply, nil
	}
	if r.client == nil {
		return "", nil
	}

	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: r.systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleAssistant
		if m.Sender == entity.SenderCustomer {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		r.log.With(
			slog.Int64("conversation_id", last.ConversationID),
			sl.Err(err),
		).Error("chat completion")
		return r.fallbackReply, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return r.fallbackReply, fmt.Errorf("chat completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
