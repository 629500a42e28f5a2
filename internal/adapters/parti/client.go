package parti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"partigrab/internal/core/domain"
	"partigrab/internal/httpclient"
)

const (
	// DefaultAPIBaseURL is the metadata endpoint; the video ID is appended as the last path element.
	DefaultAPIBaseURL = "https://api-backend.parti.com/parti_v2/profile/get_livestream_channel_info/recent"

	// DefaultTitle is used when the API response has no event title.
	DefaultTitle = "parti_video"

	// MissingPlaybackStatus is shown to the user when no alias is present.
	MissingPlaybackStatus = "Could not find a video playlist field in API response."
)

// playbackAliases are the keys the API has used for the playlist reference, in priority order.
var playbackAliases = []string{"livestream_recording", "playback_url", "recording_url"}

var videoIDPattern = regexp.MustCompile(`/video/(\d+)`)

// ExtractVideoID returns the digit run that follows "/video/" in sourceURL.
func ExtractVideoID(sourceURL string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(sourceURL)
	if m == nil {
		return "", fmt.Errorf("%w: %s", domain.ErrMalformedURL, sourceURL)
	}
	return m[1], nil
}

// Client implements ports.MetadataResolver against the provider API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// NewClient creates a new Client. An empty baseURL selects DefaultAPIBaseURL.
func NewClient(client *http.Client, baseURL string, logger *log.Logger) *Client {
	if client == nil {
		client = httpclient.New(0, "")
	}
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// VideoID implements ports.MetadataResolver.
func (c *Client) VideoID(sourceURL string) (string, error) {
	return ExtractVideoID(sourceURL)
}

// Resolve fetches and decodes the metadata for videoID.
func (c *Client) Resolve(ctx context.Context, videoID string, state *domain.JobState) (*domain.VideoMetadata, error) {
	apiURL := fmt.Sprintf("%s/%s", c.baseURL, videoID)
	c.logger.Printf("[DEBUG] Fetching API: %s", apiURL)

	raw, err := c.fetch(ctx, apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMetadataFetchFailed, err)
	}

	var fields map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrMetadataFetchFailed, err)
	}

	ref, ok := playbackRef(fields)
	if !ok {
		state.SetStatus(MissingPlaybackStatus)
		return nil, domain.ErrMissingPlaybackReference
	}

	return &domain.VideoMetadata{
		VideoID:     videoID,
		Title:       stringField(fields, "event_title", DefaultTitle),
		StartTS:     intField(fields, "event_start_ts"),
		PlaybackRef: ref,
		Raw:         raw,
	}, nil
}

func (c *Client) fetch(ctx context.Context, apiURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !httpclient.IsSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// playbackRef takes the first alias present in the response. A present
// alias that is not a string ends the search.
func playbackRef(fields map[string]interface{}) (string, bool) {
	for _, key := range playbackAliases {
		v, present := fields[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

func stringField(fields map[string]interface{}, key, fallback string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return fallback
}

func intField(fields map[string]interface{}, key string) int64 {
	n, ok := fields[key].(json.Number)
	if !ok {
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return v
}
