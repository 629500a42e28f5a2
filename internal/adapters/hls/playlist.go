package hls

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"partigrab/internal/core/domain"
	"partigrab/internal/httpclient"
)

const (
	// DefaultWatchBaseURL resolves playback references that are not absolute.
	DefaultWatchBaseURL = "https://watch.parti.com/"

	VariantSuffix = "/playlist.m3u8"
	SegmentSuffix = ".ts"

	EmptyVariantStatus = "Variant playlist is empty or not found."

	debugPreviewLen = 500
)

// Resolver implements ports.PlaylistResolver: master playlist, first variant, segment list.
type Resolver struct {
	base   *url.URL
	client *http.Client
	logger *log.Logger
}

// NewResolver creates a new Resolver. An empty watchBaseURL selects DefaultWatchBaseURL.
func NewResolver(client *http.Client, watchBaseURL string, logger *log.Logger) (*Resolver, error) {
	if watchBaseURL == "" {
		watchBaseURL = DefaultWatchBaseURL
	}
	base, err := url.Parse(watchBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid watch base URL %q: %w", watchBaseURL, err)
	}
	if client == nil {
		client = httpclient.New(0, "")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{base: base, client: client, logger: logger}, nil
}

// Resolve fetches the master playlist behind playbackRef, picks the first
// variant (or the master itself when it lists none) and returns the variant's
// segments in playback order.
func (r *Resolver) Resolve(ctx context.Context, playbackRef, title string, state *domain.JobState) (*domain.PlaylistHierarchy, error) {
	masterURL, err := r.playbackURL(playbackRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlaylistFetchFailed, err)
	}
	h := &domain.PlaylistHierarchy{MasterURL: masterURL}

	state.SetStatus(fmt.Sprintf("Fetching playlist for '%s'", title))
	r.logger.Printf("[DEBUG] Fetching master playlist: %s", masterURL)
	master, _, err := r.fetchText(ctx, masterURL)
	if err != nil {
		return nil, fmt.Errorf("%w: master %s: %v", domain.ErrPlaylistFetchFailed, masterURL, err)
	}
	h.MasterText = master

	h.Variants, err = ScanLines(master, masterURL, VariantSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlaylistFetchFailed, err)
	}
	h.VariantURL = masterURL
	if len(h.Variants) > 0 {
		h.VariantURL = h.Variants[0]
	}

	state.SetStatus(fmt.Sprintf("Fetching segments for '%s'", title))
	r.logger.Printf("[DEBUG] Fetching variant playlist: %s", h.VariantURL)
	variant, code, err := r.fetchText(ctx, h.VariantURL)
	if err != nil {
		return nil, fmt.Errorf("%w: variant %s: %v", domain.ErrPlaylistFetchFailed, h.VariantURL, err)
	}
	r.logger.Printf("[DEBUG] Variant playlist HTTP status: %d", code)
	r.logger.Printf("[DEBUG] Variant playlist content (first %d chars):\n%s", debugPreviewLen, preview(variant))
	if strings.TrimSpace(variant) == "" {
		state.SetStatus(EmptyVariantStatus)
		return nil, domain.ErrEmptyPlaylist
	}

	h.Segments, err = ScanLines(variant, h.VariantURL, SegmentSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPlaylistFetchFailed, err)
	}
	return h, nil
}

// playbackURL uses absolute references verbatim and resolves the rest
// against the watch host.
func (r *Resolver) playbackURL(ref string) (string, error) {
	if isAbsolute(ref) {
		return ref, nil
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid playback reference %q: %w", ref, err)
	}
	return r.base.ResolveReference(rel).String(), nil
}

func (r *Resolver) fetchText(ctx context.Context, u string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if !httpclient.IsSuccess(resp.StatusCode) {
		return "", resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(body), resp.StatusCode, nil
}

// ScanLines returns, in order of appearance, every trimmed line of doc that
// ends in suffix, resolved against docURL unless already absolute.
func ScanLines(doc, docURL, suffix string) ([]string, error) {
	var base *url.URL
	var out []string
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, suffix) {
			continue
		}
		if isAbsolute(line) {
			out = append(out, line)
			continue
		}
		if base == nil {
			var err error
			if base, err = url.Parse(docURL); err != nil {
				return nil, fmt.Errorf("invalid playlist URL %q: %w", docURL, err)
			}
		}
		ref, err := url.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("invalid playlist entry %q: %w", line, err)
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out, nil
}

func isAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "http")
}

func preview(s string) string {
	if len(s) <= debugPreviewLen {
		return s
	}
	return s[:debugPreviewLen]
}
