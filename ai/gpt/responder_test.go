package gpt

import (
	"SupportDesk/entity"
	"SupportDesk/internal/config"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	conf := &config.Config{}
	conf.OpenAI.Model = "gpt-4o-mini"
	conf.OpenAI.SystemPrompt = "be nice"
	conf.OpenAI.MaxTokens = 200
	conf.OpenAI.FallbackReply = "fallback"
	conf.Conversation.HandoffKeywords = []string{"Human", " agent "}
	conf.Conversation.HandoffReply = "An operator will join shortly."
	return conf
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func customer(content string) entity.Message {
	return entity.Message{ID: 1, ConversationID: 7, Sender: entity.SenderCustomer, Content: content}
}

func clientFor(t *testing.T, h http.HandlerFunc) *openai.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	return openai.NewClientWithConfig(cfg)
}

func TestReply_Handoff(t *testing.T) {
	r := newResponder(nil, testConfig(), discard())

	reply, err := r.Reply(context.Background(), []entity.Message{customer("Can I talk to a HUMAN please")})
	require.NoError(t, err)
	assert.Equal(t, "An operator will join shortly.", reply)
	assert.True(t, r.WantsHuman("need an agent"))
	assert.False(t, r.WantsHuman("what are your hours?"))
}

func TestReply_SilentWithoutClient(t *testing.T) {
	r := newResponder(nil, testConfig(), discard())

	reply, err := r.Reply(context.Background(), []entity.Message{customer("what are your hours?")})
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestReply_OnlyAnswersCustomer(t *testing.T) {
	r := newResponder(nil, testConfig(), discard())

	reply, err := r.Reply(context.Background(), []entity.Message{
		customer("agent"),
		{ID: 2, ConversationID: 7, Sender: entity.SenderBot, Content: "on it"},
	})
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestReply_ChatCompletion(t *testing.T) {
	client := clientFor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 3)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[1].Role)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[2].Role)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":" We open at 9. "},"finish_reason":"stop"}]}`))
	})
	r := newResponder(client, testConfig(), discard())

	history := []entity.Message{
		{ID: 1, ConversationID: 7, Sender: entity.SenderBot, Content: "Welcome!"},
		customer("when do you open?"),
	}
	reply, err := r.Reply(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", reply)
}

func TestReply_Fallback(t *testing.T) {
	client := clientFor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	})
	r := newResponder(client, testConfig(), discard())

	reply, err := r.Reply(context.Background(), []entity.Message{customer("hello")})
	require.Error(t, err)
	assert.Equal(t, "fallback", reply)
}
