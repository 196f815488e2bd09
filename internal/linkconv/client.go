package linkconv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"packmule/internal/retry"
	"packmule/internal/storage"
)

// notReadyMarkers in an error body mean the conversion service has accepted
// the link but not finished processing it yet.
var notReadyMarkers = []string{"still processing", "not ready", "try again"}

// Config tunes the conversion retry loop. The service is unreliable by
// design, so every failure is retried until the attempt cap.
type Config struct {
	// URL of the conversion endpoint.
	URL string
	// Attempts caps the retry loop (tens, not unbounded).
	Attempts int
	// BaseDelay grows linearly with the attempt number up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Client requests converted/alternate access links from the secondary
// service.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a conversion client with sane defaults for missing
// tuning knobs.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 30
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Convert trades the durable reference for a converted link. It never fails
// the caller: when the attempt cap runs out (or ctx is cancelled) the
// original reference is returned unchanged. The wait between attempts
// escalates with the attempt number and streams a per-second countdown to
// the status sink.
func (c *Client) Convert(ctx context.Context, reference string, status storage.StatusFunc) string {
	if c.cfg.URL == "" || reference == "" {
		return reference
	}

	var converted string
	err := retry.Do(ctx, retry.Policy{
		Attempts: c.cfg.Attempts,
		Delay:    retry.LinearCapped(c.cfg.BaseDelay, c.cfg.MaxDelay),
		OnWait: func(attempt int, remaining time.Duration) {
			if status != nil {
				status(fmt.Sprintf("conversion attempt %d failed, retrying in %s", attempt, remaining))
			}
		},
	}, func(ctx context.Context) error {
		link, err := c.convertOnce(ctx, reference)
		if err != nil {
			return err
		}
		converted = link
		return nil
	})
	if err != nil {
		c.logger.Warn("link conversion gave up, keeping original reference",
			zap.String("reference", reference),
			zap.Error(err),
		)
		return reference
	}

	if status != nil {
		status(fmt.Sprintf("link converted: %s", converted))
	}
	return converted
}

func (c *Client) convertOnce(ctx context.Context, reference string) (string, error) {
	payload, err := json.Marshal(map[string]string{"link": reference})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read conversion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isNotReady(string(body)) {
			return "", fmt.Errorf("conversion not ready: status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("conversion endpoint returned %d", resp.StatusCode)
	}

	var decoded struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode conversion response: %w", err)
	}
	if decoded.Link == "" {
		return "", errors.New("conversion response carried no link")
	}
	return decoded.Link, nil
}

func isNotReady(body string) bool {
	lowered := strings.ToLower(body)
	for _, marker := range notReadyMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
