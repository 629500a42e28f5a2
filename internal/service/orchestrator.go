package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"partigrab/internal/core/domain"
	"partigrab/internal/core/ports"
	"partigrab/internal/metrics"
)

// Orchestrator runs the acquisition pipeline for one source URL.
type Orchestrator struct {
	metadata   ports.MetadataResolver
	playlists  ports.PlaylistResolver
	fetcher    ports.SegmentFetcher
	storage    ports.Storage
	transcoder ports.Transcoder
	metrics    *metrics.Metrics
	logger     *log.Logger

	// SaveMetadata writes the raw API response next to the raw download.
	SaveMetadata bool
}

// NewOrchestrator creates a new Orchestrator. m may be nil.
func NewOrchestrator(
	metadata ports.MetadataResolver,
	playlists ports.PlaylistResolver,
	fetcher ports.SegmentFetcher,
	storage ports.Storage,
	transcoder ports.Transcoder,
	m *metrics.Metrics,
	logger *log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		metadata:   metadata,
		playlists:  playlists,
		fetcher:    fetcher,
		storage:    storage,
		transcoder: transcoder,
		metrics:    m,
		logger:     logger,
	}
}

// NewJob allocates a job and its state cell for req.
func (o *Orchestrator) NewJob(req domain.AcquisitionRequest) domain.Job {
	return domain.Job{
		ID:        uuid.New().String(),
		Request:   req,
		CreatedAt: time.Now().UTC(),
		State:     domain.NewJobState(""),
	}
}

// RunJob executes the complete pipeline for job. Whatever happens, the job's
// progress is 1.0 when RunJob returns. The returned error is the job's fatal
// error; a failed conversion is reported in the status text only.
func (o *Orchestrator) RunJob(ctx context.Context, job domain.Job, abort *domain.AbortScope) (*domain.JobResult, error) {
	started := time.Now()
	state := job.State
	result := &domain.JobResult{Job: job}
	o.logger.Printf("[JOB %s] Starting job for URL: %s", job.ID, job.Request.SourceURL)

	err := o.run(ctx, job, abort, result)
	result.CompletedAt = time.Now().UTC()

	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
		result.ErrorMessage = err.Error()
		state.Advance(domain.PhaseFailed)
		if explained(err) {
			state.SetProgress(1)
		} else {
			state.Finish(fmt.Sprintf("Error: %v", err))
		}
		o.logger.Printf("[JOB %s] ERROR: %s", job.ID, result.ErrorMessage)
	case result.Aborted:
		outcome = metrics.OutcomeAborted
		state.Advance(domain.PhaseAborted)
		state.SetProgress(1)
		o.logger.Printf("[JOB %s] Aborted by user, partial output kept at %s", job.ID, result.RawPath)
	default:
		result.Success = true
		state.Advance(domain.PhaseSucceeded)
		state.SetProgress(1)
		o.logger.Printf("[JOB %s] Job completed successfully!", job.ID)
	}
	o.metrics.JobFinished(outcome, time.Since(started))

	return result, err
}

func (o *Orchestrator) run(ctx context.Context, job domain.Job, abort *domain.AbortScope, result *domain.JobResult) error {
	req := job.Request
	state := job.State

	state.Advance(domain.PhaseResolvingMetadata)
	videoID, err := o.metadata.VideoID(req.SourceURL)
	if err != nil {
		return err
	}
	o.logger.Printf("[JOB %s] Resolving metadata for video %s...", job.ID, videoID)
	meta, err := o.metadata.Resolve(ctx, videoID, state)
	if err != nil {
		return err
	}
	result.Metadata = meta

	rawPath := o.storage.OutputPath(req.OutputDir, meta, domain.FormatTS)
	if o.SaveMetadata {
		metaPath := strings.TrimSuffix(rawPath, "."+string(domain.FormatTS)) + ".json"
		if err := o.storage.SaveMetadata(ctx, metaPath, meta.Raw); err != nil {
			o.logger.Printf("[JOB %s] WARN: %v", job.ID, err)
		}
	}

	state.Advance(domain.PhaseResolvingPlaylist)
	o.logger.Printf("[JOB %s] Resolving playlists for '%s'...", job.ID, meta.Title)
	playlist, err := o.playlists.Resolve(ctx, meta.PlaybackRef, meta.Title, state)
	if err != nil {
		return err
	}

	state.Advance(domain.PhaseDownloadingSegments)
	sink, err := o.storage.CreateOutput(ctx, rawPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSegmentTransferFailed, err)
	}
	result.RawPath = rawPath
	o.logger.Printf("[JOB %s] Downloading %d segments to %s", job.ID, len(playlist.Segments), rawPath)

	outcome, fetchErr := o.fetcher.Fetch(ctx, playlist.Segments, sink, state, abort)
	closeErr := sink.Close()
	if fetchErr != nil {
		return fetchErr
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %v", domain.ErrSegmentTransferFailed, closeErr)
	}
	if outcome == ports.FetchAborted {
		result.Aborted = true
		return nil
	}

	state.SetProgress(1)
	state.SetStatus(fmt.Sprintf("Saved to %s", rawPath))
	o.logger.Printf("[JOB %s] Saved %s", job.ID, rawPath)

	if !req.Format.IsRaw() && !abort.Aborted() {
		o.convert(ctx, job, meta, result)
	}
	return nil
}

// convert produces the requested format next to the raw file. Failures are
// reported in the status text and leave the raw file untouched.
func (o *Orchestrator) convert(ctx context.Context, job domain.Job, meta *domain.VideoMetadata, result *domain.JobResult) {
	req := job.Request
	state := job.State

	state.Advance(domain.PhaseConverting)
	outPath := o.storage.OutputPath(req.OutputDir, meta, req.Format)
	state.SetStatus(fmt.Sprintf("Converting to %s...", req.Format))
	o.logger.Printf("[JOB %s] Converting %s to %s", job.ID, result.RawPath, outPath)

	var err error
	if o.transcoder == nil {
		err = fmt.Errorf("%w: no transcoder configured", domain.ErrConversionFailed)
	} else {
		err = o.transcoder.Convert(ctx, result.RawPath, outPath, req.Format)
	}
	o.metrics.ConversionFinished(string(req.Format), err)

	if err != nil {
		if rmErr := o.storage.Discard(ctx, outPath); rmErr != nil {
			o.logger.Printf("[JOB %s] WARN: %v", job.ID, rmErr)
		}
		state.SetStatus(fmt.Sprintf("Conversion failed: %v", err))
		o.logger.Printf("[JOB %s] Conversion failed: %v", job.ID, err)
		return
	}
	result.ConvertedPath = outPath
	state.SetStatus(fmt.Sprintf("Saved to %s", outPath))
	o.logger.Printf("[JOB %s] Saved %s", job.ID, outPath)
}

// explained reports errors whose user-facing text the adapter already wrote.
func explained(err error) bool {
	return errors.Is(err, domain.ErrMissingPlaybackReference) || errors.Is(err, domain.ErrEmptyPlaylist)
}
