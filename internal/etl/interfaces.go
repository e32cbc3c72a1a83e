package etl

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves one page of indicator data.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, perPage int) (Page, error)
}

// PageRef identifies an archived raw page.
type PageRef struct {
	RunID  string
	Page   int
	Digest string
}

// PageArchive keeps raw page payloads and returns a URI.
type PageArchive interface {
	PutPage(ctx context.Context, ref PageRef, data []byte) (string, error)
}

// Mirror replicates a normalized batch into a secondary store.
type Mirror interface {
	MirrorBatch(ctx context.Context, batch Batch) error
	Close()
}

// Publisher pushes load notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, summary RunSummary) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
}

// Queue provides enqueue/dequeue semantics for pipeline runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Executor runs the whole pipeline once, rendering the report to w.
type Executor interface {
	Run(ctx context.Context, w io.Writer) (RunSummary, error)
}

// Hasher computes digests for archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
