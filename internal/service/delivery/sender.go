package delivery

import (
	"SupportDesk/internal/config"
	"SupportDesk/internal/lib/sl"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Service pushes replies to the messaging channel the customer writes from.
type Service struct {
	apiKey string
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewDeliveryService returns nil when no outbound url is configured.
func NewDeliveryService(conf *config.Config, logger *slog.Logger) *Service {
	if conf.Channel.OutboundURL == "" {
		return nil
	}
	return &Service{
		apiKey: conf.Channel.ApiKey,
		url:    strings.TrimRight(conf.Channel.OutboundURL, "/"),
		client: &http.Client{Timeout: conf.Channel.Timeout},
		log:    logger.With(sl.Module("delivery")),
	}
}

type sendRequest struct {
	To        string `json:"to"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Watermark int64  `json:"watermark"`
}

// Deliver sends text to the customer identified by phone.
func (s *Service) Deliver(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(sendRequest{
		To:        phone,
		Type:      "text",
		Content:   text,
		Watermark: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal send body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("channel responded with %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	s.log.With(
		sl.Secret("to", phone),
	).Debug("message delivered")
	return nil
}
