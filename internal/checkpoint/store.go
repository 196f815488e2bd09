package checkpoint

import (
	"time"
)

// ItemStatus is the persisted state of one work item.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
	StatusFailed     ItemStatus = "failed"
	StatusSkipped    ItemStatus = "skipped"
	StatusCancelled  ItemStatus = "cancelled"
)

// ItemRecord is the checkpoint row for one work item: the furthest phase it
// reached, its outcome there, and the durable upload result when one exists.
type ItemRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Phase       string     `json:"phase"`
	Status      ItemStatus `json:"status"`
	ArchivePath string     `json:"archive_path,omitempty"`
	ArchiveSize int64      `json:"archive_size,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	RemoteName  string     `json:"remote_name,omitempty"`
	RemoteSize  int64      `json:"remote_size,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store defines checkpoint persistence for batch runs. A completed upload
// record for an identical archive lets a resumed run skip the network work.
type Store interface {
	GetItem(id string) (*ItemRecord, error)
	SaveItem(record *ItemRecord) error
	ListFailedItems() ([]*ItemRecord, error)
	Close() error
}
