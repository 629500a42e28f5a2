package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"

	"partigrab/internal/core/domain"
)

// PathResolver locates the ffmpeg executable.
type PathResolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticPath is a PathResolver for an already known binary.
type StaticPath string

func (p StaticPath) Resolve(ctx context.Context) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: empty ffmpeg path", domain.ErrProvisioningFailed)
	}
	return string(p), nil
}

// Transcoder implements ports.Transcoder by running ffmpeg.
type Transcoder struct {
	bin    PathResolver
	logger *log.Logger
}

// NewTranscoder creates a new Transcoder.
func NewTranscoder(bin PathResolver, logger *log.Logger) *Transcoder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Transcoder{bin: bin, logger: logger}
}

// BuildArgs returns the ffmpeg arguments for converting input to output.
// Audio formats drop the video stream; everything else is a plain remux.
func BuildArgs(input, output string, format domain.Format) []string {
	args := []string{"-y", "-i", input}
	switch format {
	case domain.FormatMP3:
		args = append(args, "-vn", "-acodec", "libmp3lame")
	case domain.FormatWAV:
		args = append(args, "-vn", "-acodec", "pcm_s16le")
	}
	return append(args, output)
}

// Convert runs ffmpeg and reports its stderr when it exits non-zero.
// Provisioning failures are returned as they are.
func (t *Transcoder) Convert(ctx context.Context, input, output string, format domain.Format) error {
	bin, err := t.bin.Resolve(ctx)
	if err != nil {
		return err
	}
	t.logger.Printf("[DEBUG] Using ffmpeg at: %s", bin)

	args := BuildArgs(input, output, format)
	cmd := exec.CommandContext(ctx, bin, args...)
	t.logger.Printf("[DEBUG] Running: %s %s", bin, strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		t.logger.Printf("[ERROR] ffmpeg stderr: %s", msg)
		if msg == "" {
			return fmt.Errorf("%w: failed to run ffmpeg: %v", domain.ErrConversionFailed, err)
		}
		return fmt.Errorf("%w: ffmpeg failed: %s", domain.ErrConversionFailed, msg)
	}
	return nil
}
