package watcher

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a forum listing and returns the raw markup.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns listing markup into an ordered list of distinct topics.
type Extractor interface {
	Extract(body []byte, pageURL string) ([]Topic, error)
}

// SnapshotStore loads and persists the seen-topic snapshot.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// Notifier delivers new-topic notifications. Delivery failures are handled
// by the implementation; Notify returns how many messages went out.
type Notifier interface {
	Announce(ctx context.Context, forums []Forum) error
	Notify(ctx context.Context, passID string, forum Forum, topics []Topic) int
}

// PageArchive writes raw listing markup and returns a URI.
type PageArchive interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes digests for fallback topic ids.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces pass IDs.
type IDGenerator interface {
	NewID() (string, error)
}
