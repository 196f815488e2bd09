package storage

import (
	"context"
	"io"
)

// ProgressFunc receives the fraction of the payload sent so far (0.0-1.0).
// Callbacks fire per network chunk; callers are expected to coalesce.
type ProgressFunc func(fraction float64)

// StatusFunc receives human-readable status lines (wait notices, retries).
type StatusFunc func(message string)

// UploadResult is the durable outcome of a completed upload. Once returned
// it is immutable and safe to persist.
type UploadResult struct {
	DownloadURL string `json:"download_url"`
	FileName    string `json:"filename"`
	Size        int64  `json:"size"`
	FileID      string `json:"file_id,omitempty"`
}

// Uploader pushes one finished archive to remote storage. Implementations
// either return a fully usable result or an error, never a partial result.
// A failed call leaves no reusable session behind; the caller's retry starts
// from scratch.
type Uploader interface {
	Upload(ctx context.Context, path string, progress ProgressFunc, status StatusFunc) (*UploadResult, error)
}

// countingReader reports cumulative read progress against a known total.
// The fraction is monotonically non-decreasing because read only grows.
type countingReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.progress != nil && c.total > 0 {
		fraction := float64(c.read) / float64(c.total)
		if fraction > 1 {
			fraction = 1
		}
		c.progress(fraction)
	}
	return n, err
}
