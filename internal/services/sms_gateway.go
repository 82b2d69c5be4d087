package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SMSSender delivers one text message to one phone number.
type SMSSender interface {
	Deliver(ctx context.Context, phone, message string) error
}

// GatewayError is a non-2xx answer from the SMS gateway.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("SMS gateway error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the gateway failure is worth another attempt.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ErrGatewayNotConfigured is returned when no gateway URL is set.
var ErrGatewayNotConfigured = errors.New("SMS gateway URL not configured")

// IsRetryable classifies delivery errors: gateway 5xx/429 and transport
// failures are retried, everything else is final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrGatewayNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return true
}

type SMSGatewayConfig struct {
	URL      string
	Username string
	Password string
	SenderID string
	Timeout  time.Duration
}

// SMSGateway posts messages to an HTTP SMS gateway.
type SMSGateway struct {
	cfg    SMSGatewayConfig
	client *http.Client
}

func NewSMSGateway(cfg SMSGatewayConfig) *SMSGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMSGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type smsMessageRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

type smsGatewayResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Deliver sends an SMS. Phone is digits with an optional leading +.
func (s *SMSGateway) Deliver(ctx context.Context, phone, message string) error {
	if s.cfg.URL == "" {
		return ErrGatewayNotConfigured
	}

	payload := smsMessageRequest{
		To:      phone,
		From:    s.cfg.SenderID,
		Message: message,
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/send/sms", strings.TrimRight(s.cfg.URL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if s.cfg.Username != "" && s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp smsGatewayResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &GatewayError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	return nil
}
