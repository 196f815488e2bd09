package progress

import (
	"sync"
	"time"
)

// Status is a snapshot of batch throughput.
type Status struct {
	TotalItems     int64
	ProcessedItems int64
	SucceededItems int64
	FailedItems    int64
	SkippedItems   int64
	TotalBytes     int64
	UploadedBytes  int64
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentSpeed   float64 // bytes/second over the recent window
	AverageSpeed   float64 // bytes/second since start
	ETA            time.Duration
}

// Tracker accumulates per-item results and uploaded byte counts and derives
// speed and ETA figures for the console display.
type Tracker struct {
	mu           sync.RWMutex
	status       Status
	speedSamples []speedSample
	maxSamples   int
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// NewTracker creates an empty tracker; the clock starts immediately.
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status:       Status{StartTime: now, LastUpdateTime: now},
		speedSamples: make([]speedSample, 0, 60),
		maxSamples:   60,
	}
}

// SetTotal records how many items and bytes the batch is expected to move.
func (t *Tracker) SetTotal(items, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalItems = items
	t.status.TotalBytes = bytes
}

// AddSuccess records one item uploaded to completion.
func (t *Tracker) AddSuccess(bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SucceededItems++
	t.status.ProcessedItems++
	t.status.UploadedBytes += bytes
	t.updateSpeed(bytes)
}

// AddFailed records one item that ended in a failed outcome.
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FailedItems++
	t.status.ProcessedItems++
}

// AddSkipped records one item skipped or cancelled before its upload ran.
func (t *Tracker) AddSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SkippedItems++
	t.status.ProcessedItems++
}

// updateSpeed must be called with the lock held.
func (t *Tracker) updateSpeed(bytes int64) {
	now := time.Now()
	t.speedSamples = append(t.speedSamples, speedSample{timestamp: now, bytes: bytes})
	if len(t.speedSamples) > t.maxSamples {
		t.speedSamples = t.speedSamples[1:]
	}
	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)
	t.calculateETA()
	t.status.LastUpdateTime = now
}

// calculateCurrentSpeed uses samples from the last five seconds.
func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	if len(t.speedSamples) < 2 {
		t.status.CurrentSpeed = 0
		return
	}

	cutoff := now.Add(-5 * time.Second)
	var recentBytes int64
	var firstSample *speedSample
	for i := len(t.speedSamples) - 1; i >= 0; i-- {
		sample := &t.speedSamples[i]
		if sample.timestamp.Before(cutoff) {
			break
		}
		recentBytes += sample.bytes
		firstSample = sample
	}

	if firstSample != nil {
		window := now.Sub(firstSample.timestamp)
		if window > 0 {
			t.status.CurrentSpeed = float64(recentBytes) / window.Seconds()
		}
	}
}

func (t *Tracker) calculateAverageSpeed(now time.Time) {
	elapsed := now.Sub(t.status.StartTime)
	if elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.UploadedBytes) / elapsed.Seconds()
	}
}

func (t *Tracker) calculateETA() {
	if t.status.TotalBytes == 0 || t.status.AverageSpeed == 0 {
		t.status.ETA = 0
		return
	}
	remainingBytes := t.status.TotalBytes - t.status.UploadedBytes
	if remainingBytes <= 0 {
		t.status.ETA = 0
		return
	}
	etaSeconds := float64(remainingBytes) / t.status.AverageSpeed
	t.status.ETA = time.Duration(etaSeconds) * time.Second
}

// GetStatus returns the current status snapshot.
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// GetProgressPercent returns the item-count progress percentage.
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.status.TotalItems == 0 {
		return 0
	}
	return float64(t.status.ProcessedItems) / float64(t.status.TotalItems) * 100
}

// GetBytesProgressPercent returns the byte-count progress percentage.
func (t *Tracker) GetBytesProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.status.TotalBytes == 0 {
		return 0
	}
	return float64(t.status.UploadedBytes) / float64(t.status.TotalBytes) * 100
}
