package domain

import (
	"fmt"
	"strings"
	"time"
)

// Format is the requested output container or codec token.
type Format string

const (
	FormatTS   Format = "ts" // raw concatenated segments
	FormatMP4  Format = "mp4"
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatWMV  Format = "wmv"
	FormatMOV  Format = "mov"
	FormatWebM Format = "webm"
)

// Formats lists every supported output format in display order.
var Formats = []Format{FormatTS, FormatMP4, FormatMP3, FormatWAV, FormatWMV, FormatMOV, FormatWebM}

// ParseFormat normalizes s and checks it against Formats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// IsRaw reports whether f is the container the segments are downloaded in.
func (f Format) IsRaw() bool {
	return f == FormatTS
}

// AcquisitionRequest is the immutable input of one job.
type AcquisitionRequest struct {
	SourceURL string `json:"source_url"`
	Format    Format `json:"format"`
	OutputDir string `json:"output_dir,omitempty"` // empty means the working directory
}

// VideoMetadata is what the metadata API tells us about a recording.
type VideoMetadata struct {
	VideoID     string `json:"video_id"`
	Title       string `json:"title"`
	StartTS     int64  `json:"start_ts"`
	PlaybackRef string `json:"playback_ref"`
	Raw         []byte `json:"-"` // API response, untouched
}

// UnknownDate replaces the date part of a file name when the API gives no start time.
const UnknownDate = "unknown_date"

// Date returns the UTC calendar date of StartTS, or UnknownDate.
func (m VideoMetadata) Date() string {
	if m.StartTS <= 0 {
		return UnknownDate
	}
	return time.Unix(m.StartTS, 0).UTC().Format("2006-01-02")
}

// PlaylistHierarchy records how a playback reference was resolved into segments.
// Variants and Segments keep the order in which they appear in their documents.
type PlaylistHierarchy struct {
	MasterURL  string
	MasterText string
	Variants   []string
	VariantURL string
	Segments   []string
}

// Job represents one acquisition run for a single source URL.
type Job struct {
	ID        string             `json:"job_id"`
	Request   AcquisitionRequest `json:"request"`
	CreatedAt time.Time          `json:"created_at"`
	State     *JobState          `json:"-"`
}

// JobResult holds the outcome of a finished job.
type JobResult struct {
	Job           Job
	Metadata      *VideoMetadata
	RawPath       string
	ConvertedPath string
	Aborted       bool
	Success       bool
	ErrorMessage  string
	CompletedAt   time.Time
}
