package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"packmule/internal/retry"
)

// errStillProcessing marks a completion poll that found the server still
// scanning the upload. Retryable, never surfaced as a hard failure until
// the attempt cap runs out.
var errStillProcessing = errors.New("server is still processing the upload")

// waitMarkers are the phrases the host embeds in a completion response while
// its background scan has not finished yet.
var waitMarkers = []string{"please wait", "still processing", "scan in progress"}

// canonicalLinkPattern extracts the durable link when the host answers the
// upload POST with an inline page instead of a redirect.
var canonicalLinkPattern = regexp.MustCompile(`rel="canonical"\s+href="([^"]+)"`)

// FileHostConfig configures the upload protocol client.
type FileHostConfig struct {
	// AcquireURL hands out per-upload endpoints.
	AcquireURL string
	// StatusURL is the completion poll endpoint; the session id is passed
	// as the xid query parameter.
	StatusURL string
	// APIKey is sent as a bearer token on acquire and poll requests.
	APIKey string
	// PollAttempts caps the completion poll loop.
	PollAttempts int
	// PollDelay is the fixed wait between completion polls.
	PollDelay time.Duration
}

// FileHostClient implements the three-step resilient upload protocol:
// acquire an endpoint, stream the file as one multipart body, then poll the
// completion endpoint until background processing yields a durable link.
type FileHostClient struct {
	cfg    FileHostConfig
	http   *http.Client
	logger *zap.Logger
}

type uploadEndpoint struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

type completionResponse struct {
	Links []struct {
		Download string `json:"download"`
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	} `json:"links"`
}

// NewFileHostClient creates a client for the remote file host. The HTTP
// client never follows redirects (the redirect carries the session id) and
// has no timeout: large uploads may legitimately run for hours, and the
// context handles cancellation.
func NewFileHostClient(cfg FileHostConfig, logger *zap.Logger) *FileHostClient {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 10
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHostClient{
		cfg: cfg,
		http: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Upload pushes path to the host and blocks until the host has finished its
// background scan. Each call negotiates a fresh session; nothing survives
// into a retry.
func (c *FileHostClient) Upload(ctx context.Context, path string, progress ProgressFunc, status StatusFunc) (*UploadResult, error) {
	endpoint, err := c.acquireEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire upload endpoint: %w", err)
	}
	c.logger.Debug("upload endpoint acquired",
		zap.String("endpoint_id", endpoint.ID),
		zap.String("file", path),
	)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}

	resp, err := c.streamFile(ctx, endpoint, path, info.Size(), progress)
	if err != nil {
		return nil, fmt.Errorf("stream file: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode < http.StatusBadRequest:
		sessionID, err := sessionFromRedirect(resp)
		if err != nil {
			return nil, err
		}
		return c.awaitProcessing(ctx, sessionID, status)
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		// Less common path: the host renders the final page inline.
		return resultFromInlinePage(resp.Body, filepath.Base(path), info.Size())
	default:
		return nil, fmt.Errorf("upload rejected with status %d", resp.StatusCode)
	}
}

func (c *FileHostClient) acquireEndpoint(ctx context.Context) (uploadEndpoint, error) {
	var endpoint uploadEndpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AcquireURL, nil)
	if err != nil {
		return endpoint, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return endpoint, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return endpoint, fmt.Errorf("endpoint server returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&endpoint); err != nil {
		return endpoint, fmt.Errorf("decode endpoint response: %w", err)
	}
	if endpoint.URL == "" {
		return endpoint, errors.New("endpoint response carried no url")
	}
	return endpoint, nil
}

// streamFile POSTs the file as one multipart body. The body is produced
// through a pipe so only one copy buffer is in flight regardless of file
// size. Cancelling ctx aborts the connection mid-stream.
func (c *FileHostClient) streamFile(ctx context.Context, endpoint uploadEndpoint, path string, size int64, progress ProgressFunc) (*http.Response, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload source: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		defer file.Close()
		part, err := writer.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counted := &countingReader{r: file, total: size, progress: progress}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		pr.Close()
		return nil, err
	}
	return resp, nil
}

// awaitProcessing polls the completion endpoint until the host reports the
// durable link. Wait responses are retried on a fixed schedule up to the
// attempt cap, each one reported through the status sink.
func (c *FileHostClient) awaitProcessing(ctx context.Context, sessionID string, status StatusFunc) (*UploadResult, error) {
	var result *UploadResult
	attempt := 0

	err := retry.Do(ctx, retry.Policy{
		Attempts:  c.cfg.PollAttempts,
		Delay:     retry.Fixed(c.cfg.PollDelay),
		Retryable: func(err error) bool { return errors.Is(err, errStillProcessing) },
	}, func(ctx context.Context) error {
		attempt++
		res, err := c.pollCompletion(ctx, sessionID)
		if err != nil {
			if errors.Is(err, errStillProcessing) && status != nil {
				status(fmt.Sprintf("server is scanning the upload, waiting (attempt %d/%d)", attempt, c.cfg.PollAttempts))
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("await upload processing: %w", err)
	}

	if status != nil {
		status(fmt.Sprintf("upload processed: %s", result.DownloadURL))
	}
	return result, nil
}

func (c *FileHostClient) pollCompletion(ctx context.Context, sessionID string) (*UploadResult, error) {
	pollURL, err := url.Parse(c.cfg.StatusURL)
	if err != nil {
		return nil, fmt.Errorf("parse status url: %w", err)
	}
	query := pollURL.Query()
	query.Set("xid", sessionID)
	pollURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("JSON", "1")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	if containsWaitMarker(string(body)) {
		return nil, errStillProcessing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("completion endpoint returned %d", resp.StatusCode)
	}

	var completion completionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(completion.Links) == 0 {
		return nil, errors.New("completion response carried no links")
	}

	link := completion.Links[0]
	if link.Download == "" {
		return nil, errors.New("completion response carried an empty download link")
	}
	return &UploadResult{
		DownloadURL: link.Download,
		FileName:    link.Filename,
		Size:        link.Size,
		FileID:      sessionID,
	}, nil
}

func (c *FileHostClient) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func sessionFromRedirect(resp *http.Response) (string, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("redirect response carried no location")
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect location: %w", err)
	}
	sessionID := parsed.Query().Get("xid")
	if sessionID == "" {
		return "", fmt.Errorf("redirect location %q carried no session id", location)
	}
	return sessionID, nil
}

func resultFromInlinePage(body io.Reader, localName string, localSize int64) (*UploadResult, error) {
	page, err := io.ReadAll(io.LimitReader(body, 2<<20))
	if err != nil {
		return nil, fmt.Errorf("read inline response: %w", err)
	}
	match := canonicalLinkPattern.FindSubmatch(page)
	if match == nil {
		return nil, errors.New("inline response carried no canonical link")
	}
	return &UploadResult{
		DownloadURL: string(match[1]),
		FileName:    localName,
		Size:        localSize,
	}, nil
}

func containsWaitMarker(body string) bool {
	lowered := strings.ToLower(body)
	for _, marker := range waitMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
