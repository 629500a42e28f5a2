package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"partigrab/internal/core/domain"
	"partigrab/internal/core/ports"
	"partigrab/internal/httpclient"
)

const AbortedStatus = "Aborted by user."

// SegmentObserver is told about every segment written to the sink.
type SegmentObserver interface {
	SegmentFetched(bytes int64)
}

// Fetcher implements ports.SegmentFetcher with one sequential GET per segment.
type Fetcher struct {
	client   *http.Client
	observer SegmentObserver
}

// NewFetcher creates a new Fetcher. observer may be nil.
func NewFetcher(client *http.Client, observer SegmentObserver) *Fetcher {
	if client == nil {
		client = httpclient.New(0, "")
	}
	return &Fetcher{client: client, observer: observer}
}

// Fetch streams every segment body onto sink in order. Progress and status
// are updated before each request; abort is checked at each segment boundary.
// A failed segment stops the download; bytes already written stay in sink.
func (f *Fetcher) Fetch(ctx context.Context, segments []string, sink io.Writer, state *domain.JobState, abort *domain.AbortScope) (ports.FetchOutcome, error) {
	total := len(segments)
	state.SetStatus(fmt.Sprintf("Downloading %d segments...", total))
	state.SetProgress(0)

	for i, segURL := range segments {
		if abort.Aborted() {
			state.Finish(AbortedStatus)
			return ports.FetchAborted, nil
		}
		state.SetProgress(float64(i+1) / float64(total))
		state.SetStatus(fmt.Sprintf("Downloading segment %d/%d...", i+1, total))

		n, err := f.copySegment(ctx, segURL, sink)
		if err != nil {
			return ports.FetchCompleted, fmt.Errorf("%w: segment %d/%d %s: %v", domain.ErrSegmentTransferFailed, i+1, total, segURL, err)
		}
		if f.observer != nil {
			f.observer.SegmentFetched(n)
		}
	}

	state.SetProgress(1)
	return ports.FetchCompleted, nil
}

func (f *Fetcher) copySegment(ctx context.Context, segURL string, sink io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !httpclient.IsSuccess(resp.StatusCode) {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.Copy(sink, resp.Body)
}
