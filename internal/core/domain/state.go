package domain

import (
	"sync"
	"sync/atomic"
)

// Phase is the lifecycle position of a job.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseResolvingMetadata
	PhaseResolvingPlaylist
	PhaseDownloadingSegments
	PhaseConverting
	PhaseSucceeded
	PhaseAborted
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseCreated:             "created",
	PhaseResolvingMetadata:   "resolving_metadata",
	PhaseResolvingPlaylist:   "resolving_playlist",
	PhaseDownloadingSegments: "downloading_segments",
	PhaseConverting:          "converting",
	PhaseSucceeded:           "succeeded",
	PhaseAborted:             "aborted",
	PhaseFailed:              "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// IsTerminal returns true for succeeded, aborted and failed.
func (p Phase) IsTerminal() bool {
	return p >= PhaseSucceeded
}

// CanAdvance reports whether a job may move from one phase to another.
// Phases only move forward and nothing leaves a terminal phase.
func CanAdvance(from, to Phase) bool {
	if from.IsTerminal() {
		return false
	}
	return to > from
}

// JobState is the status/progress cell shared between a running job and
// whoever observes it. Each accessor holds the lock for a single read or write.
type JobState struct {
	mu       sync.Mutex
	status   string
	progress float64
	phase    Phase
}

// NewJobState returns a state with an initial status text.
func NewJobState(status string) *JobState {
	return &JobState{status: status}
}

func (s *JobState) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *JobState) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetProgress stores p clamped to [0, 1].
func (s *JobState) SetProgress(p float64) {
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

func (s *JobState) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Advance moves the job to phase p if that is a forward transition.
func (s *JobState) Advance(p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanAdvance(s.phase, p) {
		return false
	}
	s.phase = p
	return true
}

func (s *JobState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Finish writes a final status and forces progress to 1.0.
func (s *JobState) Finish(status string) {
	s.mu.Lock()
	s.status = status
	s.progress = 1
	s.mu.Unlock()
}

// Done reports whether the job has reached progress 1.0, the only
// externally visible completion signal.
func (s *JobState) Done() bool {
	return s.Progress() >= 1
}

// Snapshot returns status and progress read under one lock.
func (s *JobState) Snapshot() (string, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.progress
}

// AbortScope is a set-once cancellation flag checked at segment and batch
// item boundaries. It never preempts an in-flight request.
type AbortScope struct {
	flag atomic.Bool
}

func NewAbortScope() *AbortScope {
	return &AbortScope{}
}

func (a *AbortScope) Abort() {
	a.flag.Store(true)
}

func (a *AbortScope) Aborted() bool {
	return a != nil && a.flag.Load()
}
