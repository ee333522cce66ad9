package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"buddypark.app/relay/internal/model"
)

type GatewayConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration // per request, defaults to 10s
}

// GatewaySender posts notifications to the push gateway.
type GatewaySender struct {
	cfg    GatewayConfig
	client *http.Client
}

type gatewayRequest struct {
	Token   string             `json:"token"`
	Payload model.Notification `json:"payload"`
}

func NewGatewaySender(cfg GatewayConfig) *GatewaySender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &GatewaySender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *GatewaySender) Send(ctx context.Context, routingToken string, n model.Notification) error {
	body, err := json.Marshal(gatewayRequest{Token: routingToken, Payload: n})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
