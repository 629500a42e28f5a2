package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"partigrab/internal/core/domain"
)

const (
	StartingStatus      = "Starting download..."
	BatchStartingStatus = "Starting..."
	AbortedStatus       = "Aborted by user."
)

// JobRunner is the part of Orchestrator the scheduler depends on.
type JobRunner interface {
	NewJob(req domain.AcquisitionRequest) domain.Job
	RunJob(ctx context.Context, job domain.Job, abort *domain.AbortScope) (*domain.JobResult, error)
}

// Scheduler starts pipelines in the background and hands back handles the
// caller can poll and abort.
type Scheduler struct {
	runner JobRunner
	logger *log.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(runner JobRunner, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scheduler{runner: runner, logger: logger}
}

// Run is a single-item run with its own abort scope.
type Run struct {
	Job    domain.Job
	abort  *domain.AbortScope
	done   chan struct{}
	result *domain.JobResult
	err    error
}

func (r *Run) State() *domain.JobState { return r.Job.State }

// Abort asks the job to stop at its next segment boundary.
func (r *Run) Abort() { r.abort.Abort() }

func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the job is finished.
func (r *Run) Wait() (*domain.JobResult, error) {
	<-r.done
	return r.result, r.err
}

// RunSingle launches one pipeline in its own goroutine.
func (s *Scheduler) RunSingle(ctx context.Context, req domain.AcquisitionRequest) *Run {
	run := &Run{
		Job:   s.runner.NewJob(req),
		abort: domain.NewAbortScope(),
		done:  make(chan struct{}),
	}
	run.Job.State.SetStatus(StartingStatus)

	go func() {
		defer close(run.done)
		run.result, run.err = s.runner.RunJob(ctx, run.Job, run.abort)
		if run.err != nil {
			s.logger.Printf("[ERROR] Download job %s: %v", run.Job.ID, run.err)
		}
	}()
	return run
}

// BatchRun is an ordered set of jobs sharing one abort scope.
type BatchRun struct {
	Jobs    []domain.Job
	abort   *domain.AbortScope
	done    chan struct{}
	results []*domain.JobResult
}

// Abort stops the job in flight at its next segment boundary and skips
// every job that has not started.
func (b *BatchRun) Abort() { b.abort.Abort() }

func (b *BatchRun) Done() <-chan struct{} { return b.done }

// Wait blocks until every job is finished and returns results in input order.
func (b *BatchRun) Wait() []*domain.JobResult {
	<-b.done
	return b.results
}

// Finished reports whether every job has reached progress 1.0.
func (b *BatchRun) Finished() bool {
	for _, job := range b.Jobs {
		if !job.State.Done() {
			return false
		}
	}
	return true
}

// RunBatch runs reqs one after another in a single goroutine. One job's
// failure never stops the jobs after it.
func (s *Scheduler) RunBatch(ctx context.Context, reqs []domain.AcquisitionRequest) *BatchRun {
	batch := &BatchRun{
		Jobs:    make([]domain.Job, len(reqs)),
		abort:   domain.NewAbortScope(),
		done:    make(chan struct{}),
		results: make([]*domain.JobResult, len(reqs)),
	}
	for i, req := range reqs {
		batch.Jobs[i] = s.runner.NewJob(req)
	}

	go func() {
		defer close(batch.done)
		for i, job := range batch.Jobs {
			if ctx.Err() != nil {
				batch.abort.Abort()
			}
			if batch.abort.Aborted() {
				job.State.Advance(domain.PhaseAborted)
				job.State.Finish(AbortedStatus)
				batch.results[i] = &domain.JobResult{Job: job, Aborted: true, CompletedAt: time.Now().UTC()}
				continue
			}

			job.State.SetStatus(BatchStartingStatus)
			result, err := s.runner.RunJob(ctx, job, batch.abort)
			if err != nil {
				s.logger.Printf("[ERROR] Batch item %d/%d (%s): %v", i+1, len(batch.Jobs), job.Request.SourceURL, err)
			}
			batch.results[i] = result
		}
	}()
	return batch
}

// Requests builds one request per URL with a shared format and output directory.
func Requests(urls []string, format domain.Format, outputDir string) []domain.AcquisitionRequest {
	reqs := make([]domain.AcquisitionRequest, len(urls))
	for i, u := range urls {
		reqs[i] = domain.AcquisitionRequest{SourceURL: u, Format: format, OutputDir: outputDir}
	}
	return reqs
}

// LoadBatchFile reads one URL per line, skipping blank lines.
func LoadBatchFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()
	return ReadURLs(f)
}

// ReadURLs is LoadBatchFile for an already open reader.
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	return urls, nil
}
