package pipeline

import (
	"context"
	"fmt"
	"sync"

	"packmule/internal/storage"
)

// Transformer applies the protection-replacement step to one install
// directory, in place. The pipeline treats it as opaque: it only observes
// success or failure.
type Transformer interface {
	Apply(ctx context.Context, sourcePath string) error
}

// ArchiveRequest is the pipeline's ask of the archiving collaborator. How
// the archive is produced (process arguments, memory tuning, compression
// fallbacks) is the collaborator's business.
type ArchiveRequest struct {
	SourcePath string
	DestPath   string
	Format     string
	Level      int
	Password   string
}

// ArchiveResult reports what the collaborator wrote.
type ArchiveResult struct {
	Path string
	Size int64
}

// Archiver compresses one item, reporting percent progress (0-100) along
// the way.
type Archiver interface {
	Compress(ctx context.Context, req ArchiveRequest, progress func(percent float64)) (ArchiveResult, error)
}

// LinkConverter trades a durable reference for an alternate access link. It
// degrades gracefully: on permanent failure the original reference comes
// back unchanged.
type LinkConverter interface {
	Convert(ctx context.Context, reference string, status storage.StatusFunc) string
}

// TargetSlot is the single shared "current target" resource the transform
// collaborator mutates. It is handed to the transform executor explicitly;
// the runner's sequential scheduling of that phase keeps it single-flight,
// and the slot itself refuses a second concurrent holder.
type TargetSlot struct {
	mu      sync.Mutex
	current string
}

// Acquire takes the slot for one item and returns its release func.
func (s *TargetSlot) Acquire(id string) (func(), error) {
	if !s.mu.TryLock() {
		return nil, fmt.Errorf("transform target slot already held by %q", s.current)
	}
	s.current = id
	return func() {
		s.current = ""
		s.mu.Unlock()
	}, nil
}
