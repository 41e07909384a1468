package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zattra/wablast/internal/config"
	"github.com/zattra/wablast/internal/metrics"
)

// RejectedError indicates the gateway answered the request but refused
// to deliver. The raw gateway message is preserved for classification
// and diagnosis by the layers above; this client does not interpret it.
type RejectedError struct {
	Message    string
	RetryAfter time.Duration // Optional hint supplied by the gateway
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway rejected: %s", e.Message)
}

// Client issues the three primitive gateway operations. It performs no
// retries and no pacing; those are the responsibility of the dispatch
// layer.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dryRun     bool
	logger     *slog.Logger
}

// NewClient creates a gateway client with an explicit per-call timeout.
func NewClient(cfg *config.GatewayConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

type textRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type mediaRequest struct {
	To       string `json:"to"`
	ImageURL string `json:"imageUrl"`
	// The gateway rejects a blank string for this optional field, so an
	// empty caption is omitted from the payload entirely.
	Text string `json:"text,omitempty"`
}

type uploadRequest struct {
	Media string `json:"media"`
}

type statusResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds
}

type uploadResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	PublicURL string `json:"publicUrl"`
}

// SendText sends a plain text message to one phone number.
func (c *Client) SendText(ctx context.Context, phone, message string) error {
	if c.dryRun {
		c.logger.Info("dry-run text message", "phone", phone)
		return nil
	}

	var resp statusResponse
	if err := c.post(ctx, "/messages/text", textRequest{Phone: phone, Message: message}, &resp); err != nil {
		return err
	}
	return checkStatus(resp)
}

// SendMedia sends one hosted media item to a phone number with an
// optional caption.
func (c *Client) SendMedia(ctx context.Context, phone, publicRef, caption string) error {
	if c.dryRun {
		c.logger.Info("dry-run media message", "phone", phone, "media", publicRef)
		return nil
	}

	var resp statusResponse
	if err := c.post(ctx, "/send-message", mediaRequest{To: phone, ImageURL: publicRef, Text: caption}, &resp); err != nil {
		return err
	}
	return checkStatus(resp)
}

// Upload uploads base64-encoded media and returns the gateway-hosted
// public reference.
func (c *Client) Upload(ctx context.Context, inline string) (string, error) {
	if c.dryRun {
		ref := "https://media.invalid/dry-run/" + uuid.New().String()
		c.logger.Info("dry-run media upload", "ref", ref)
		return ref, nil
	}

	var resp uploadResponse
	if err := c.post(ctx, "/upload", uploadRequest{Media: inline}, &resp); err != nil {
		return "", err
	}
	if resp.PublicURL == "" {
		msg := resp.Message
		if msg == "" {
			msg = "upload returned no public url"
		}
		return "", &RejectedError{Message: msg}
	}
	metrics.IncMediaUploads()
	return resp.PublicURL, nil
}

// post performs one JSON round-trip. Transport and timeout failures are
// returned wrapped; gateway-level refusals (non-2xx) become RejectedError.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RejectedError{
			Message:    rejectionMessage(respBody, resp.StatusCode),
			RetryAfter: retryAfterHint(respBody),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return nil
}

func checkStatus(resp statusResponse) error {
	switch resp.Status {
	case "success", "ok", "sent":
		return nil
	}
	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("status %q", resp.Status)
	}
	return &RejectedError{
		Message:    msg,
		RetryAfter: time.Duration(resp.RetryAfter) * time.Second,
	}
}

func rejectionMessage(body []byte, statusCode int) string {
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Message != "" {
		return resp.Message
	}
	return fmt.Sprintf("http status %d", statusCode)
}

func retryAfterHint(body []byte) time.Duration {
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0
	}
	return time.Duration(resp.RetryAfter) * time.Second
}
