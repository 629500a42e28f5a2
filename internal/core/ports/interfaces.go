package ports

import (
	"context"
	"io"

	"partigrab/internal/core/domain"
)

// MetadataResolver defines the contract for looking a video up in the provider API.
type MetadataResolver interface {
	// VideoID extracts the provider's video identifier from a page URL.
	VideoID(sourceURL string) (string, error)

	// Resolve fetches metadata for a numeric video ID. User-facing
	// explanations of failures are written to state before returning.
	Resolve(ctx context.Context, videoID string, state *domain.JobState) (*domain.VideoMetadata, error)
}

// PlaylistResolver defines the contract for turning a playback reference
// into the ordered list of segment URLs.
type PlaylistResolver interface {
	Resolve(ctx context.Context, playbackRef, title string, state *domain.JobState) (*domain.PlaylistHierarchy, error)
}

// FetchOutcome tells a completed segment download apart from one stopped by the user.
type FetchOutcome int

const (
	FetchCompleted FetchOutcome = iota
	FetchAborted
)

// SegmentFetcher defines the contract for downloading segments in playback order.
type SegmentFetcher interface {
	// Fetch appends every segment body to sink, in order. It checks abort
	// before each segment and never interrupts a transfer in flight.
	Fetch(ctx context.Context, segments []string, sink io.Writer, state *domain.JobState, abort *domain.AbortScope) (FetchOutcome, error)
}

// Storage defines the contract for placing job output on disk.
type Storage interface {
	// OutputPath returns the file path for a recording in the given format.
	OutputPath(dir string, meta *domain.VideoMetadata, format domain.Format) string

	// CreateOutput truncates or creates path and returns a buffered sink.
	// Closing the sink flushes it.
	CreateOutput(ctx context.Context, path string) (io.WriteCloser, error)

	// SaveMetadata writes the raw API response next to the output.
	SaveMetadata(ctx context.Context, path string, data []byte) error

	// Discard removes a file that must not be left behind. Missing files are not an error.
	Discard(ctx context.Context, path string) error
}

// Transcoder defines the contract for the external conversion step.
type Transcoder interface {
	// Convert writes a new file at output from input. input is never modified.
	Convert(ctx context.Context, input, output string, format domain.Format) error
}
