package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"partigrab/internal/core/domain"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
}

func TestRunSingle(t *testing.T) {
	f := newFixture(t)
	f.addRecording("10", `{"recording_url": "rec/10/master.m3u8", "event_title": "Single", "event_start_ts": 1700000000}`, "a", "b")

	dir := t.TempDir()
	s := NewScheduler(f.orchestrator(nil), nil)
	run := s.RunSingle(context.Background(), domain.AcquisitionRequest{SourceURL: videoURL("10"), Format: domain.FormatTS, OutputDir: dir})
	if run.State() == nil {
		t.Fatal("State() = nil")
	}
	waitDone(t, run.Done())

	result, err := run.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !result.Success {
		t.Errorf("result = %+v", result)
	}
	if !run.State().Done() {
		t.Errorf("progress = %v, expected 1", run.State().Progress())
	}
	if got := readFile(t, filepath.Join(dir, "Single_2023-11-14.ts")); got != "10-a;10-b;" {
		t.Errorf("output = %q", got)
	}
}

func TestRunSingle_AbortMidDownload(t *testing.T) {
	f := newFixture(t)
	f.addRecording("11", `{"livestream_recording": "rec/11/master.m3u8", "event_title": "Long", "event_start_ts": 1700000000}`, "a", "b", "c", "d")

	reached := make(chan struct{})
	release := make(chan struct{})
	f.setHook(func(path string) {
		if path == "/watch/rec/11/hi/b.ts" {
			close(reached)
			<-release
		}
	})

	dir := t.TempDir()
	s := NewScheduler(f.orchestrator(nil), nil)
	run := s.RunSingle(context.Background(), domain.AcquisitionRequest{SourceURL: videoURL("11"), Format: domain.FormatMP4, OutputDir: dir})

	waitDone(t, reached)
	run.Abort()
	close(release)
	waitDone(t, run.Done())

	result, err := run.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !result.Aborted || result.ConvertedPath != "" {
		t.Errorf("result = %+v", result)
	}
	// The segment in flight completes; nothing after it is fetched.
	if got := readFile(t, result.RawPath); got != "11-a;11-b;" {
		t.Errorf("output = %q", got)
	}
	status, progress := run.State().Snapshot()
	if status != AbortedStatus || progress != 1 {
		t.Errorf("state = %q / %v", status, progress)
	}
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.addRecording("20", `{"livestream_recording": "rec/20/master.m3u8", "event_title": "First", "event_start_ts": 1700000000}`, "a")
	f.set("/api/recent/21", `{"event_title": "Broken"}`)
	f.addRecording("22", `{"livestream_recording": "rec/22/master.m3u8", "event_title": "Third", "event_start_ts": 1700000000}`, "a", "b")

	dir := t.TempDir()
	s := NewScheduler(f.orchestrator(nil), nil)
	urls := []string{videoURL("20"), "not a video url", videoURL("21"), videoURL("22")}
	batch := s.RunBatch(context.Background(), Requests(urls, domain.FormatTS, dir))
	waitDone(t, batch.Done())

	results := batch.Wait()
	if len(results) != len(urls) {
		t.Fatalf("results = %d, expected %d", len(results), len(urls))
	}
	if !batch.Finished() {
		t.Error("Finished() = false after Wait")
	}

	wantSuccess := []bool{true, false, false, true}
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d is nil", i)
		}
		if r.Success != wantSuccess[i] {
			t.Errorf("result %d success = %v, expected %v (%s)", i, r.Success, wantSuccess[i], r.ErrorMessage)
		}
		if r.Job.ID != batch.Jobs[i].ID {
			t.Errorf("result %d belongs to job %s, expected %s", i, r.Job.ID, batch.Jobs[i].ID)
		}
	}
	if !strings.HasPrefix(batch.Jobs[1].State.Status(), "Error: ") {
		t.Errorf("malformed url status = %q", batch.Jobs[1].State.Status())
	}
	if !strings.Contains(batch.Jobs[2].State.Status(), "Could not find a video playlist field") {
		t.Errorf("missing field status = %q", batch.Jobs[2].State.Status())
	}
	if got := readFile(t, filepath.Join(dir, "Third_2023-11-14.ts")); got != "22-a;22-b;" {
		t.Errorf("third output = %q", got)
	}
}

func TestRunBatch_AbortSkipsPendingJobs(t *testing.T) {
	f := newFixture(t)
	f.addRecording("30", `{"livestream_recording": "rec/30/master.m3u8", "event_title": "One", "event_start_ts": 1700000000}`, "a", "b", "c")
	f.addRecording("31", `{"livestream_recording": "rec/31/master.m3u8", "event_title": "Two", "event_start_ts": 1700000000}`, "a")
	f.addRecording("32", `{"livestream_recording": "rec/32/master.m3u8", "event_title": "Three", "event_start_ts": 1700000000}`, "a")

	reached := make(chan struct{})
	release := make(chan struct{})
	f.setHook(func(path string) {
		if path == "/watch/rec/30/hi/a.ts" {
			close(reached)
			<-release
		}
	})

	dir := t.TempDir()
	s := NewScheduler(f.orchestrator(nil), nil)
	batch := s.RunBatch(context.Background(), Requests([]string{videoURL("30"), videoURL("31"), videoURL("32")}, domain.FormatTS, dir))

	waitDone(t, reached)
	batch.Abort()
	close(release)
	results := batch.Wait()

	if !results[0].Aborted {
		t.Errorf("first job result = %+v", results[0])
	}
	if got := readFile(t, results[0].RawPath); got != "30-a;" {
		t.Errorf("first output = %q", got)
	}
	for i := 1; i < 3; i++ {
		status, progress := batch.Jobs[i].State.Snapshot()
		if status != AbortedStatus || progress != 1 {
			t.Errorf("job %d state = %q / %v", i, status, progress)
		}
		if !results[i].Aborted {
			t.Errorf("job %d not marked aborted", i)
		}
		if batch.Jobs[i].State.Phase() != domain.PhaseAborted {
			t.Errorf("job %d phase = %s", i, batch.Jobs[i].State.Phase())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Two_2023-11-14.ts")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("pending job created output: %v", err)
	}
}

func TestRunBatch_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(f.orchestrator(nil), nil)
	batch := s.RunBatch(ctx, Requests([]string{videoURL("1"), videoURL("2")}, domain.FormatTS, t.TempDir()))
	for i, r := range batch.Wait() {
		if !r.Aborted {
			t.Errorf("result %d = %+v, expected aborted", i, r)
		}
	}
	if !batch.Finished() {
		t.Error("Finished() = false")
	}
}

func TestRunBatch_Empty(t *testing.T) {
	s := NewScheduler(newFixture(t).orchestrator(nil), nil)
	batch := s.RunBatch(context.Background(), nil)
	if results := batch.Wait(); len(results) != 0 {
		t.Errorf("results = %v", results)
	}
	if !batch.Finished() {
		t.Error("empty batch not finished")
	}
}

func TestReadURLs(t *testing.T) {
	input := "https://parti.com/video/1\n\n   \n  https://parti.com/video/2  \r\nhttps://parti.com/video/3"
	urls, err := ReadURLs(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadURLs() error = %v", err)
	}
	expected := []string{"https://parti.com/video/1", "https://parti.com/video/2", "https://parti.com/video/3"}
	if len(urls) != len(expected) {
		t.Fatalf("urls = %v, expected %v", urls, expected)
	}
	for i := range expected {
		if urls[i] != expected[i] {
			t.Errorf("urls[%d] = %q, expected %q", i, urls[i], expected[i])
		}
	}
}

func TestLoadBatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte("https://parti.com/video/5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	urls, err := LoadBatchFile(path)
	if err != nil {
		t.Fatalf("LoadBatchFile() error = %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://parti.com/video/5" {
		t.Errorf("urls = %v", urls)
	}
	if _, err := LoadBatchFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

type blockingTranscoder struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTranscoder) Convert(ctx context.Context, input, output string, format domain.Format) error {
	close(b.started)
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return os.WriteFile(output, []byte("converted"), 0644)
}

func TestRunSingle_ConversionAfterDownloadProgress(t *testing.T) {
	f := newFixture(t)
	f.addRecording("12", `{"livestream_recording": "rec/12/master.m3u8", "event_title": "Convert", "event_start_ts": 1700000000}`, "a")

	dir := t.TempDir()
	tc := &blockingTranscoder{started: make(chan struct{}), release: make(chan struct{})}
	o := f.orchestrator(nil)
	o.transcoder = tc
	run := NewScheduler(o, nil).RunSingle(context.Background(), domain.AcquisitionRequest{SourceURL: videoURL("12"), Format: domain.FormatMP3, OutputDir: dir})

	waitDone(t, tc.started)
	state := run.State()
	if !state.Done() {
		t.Errorf("progress = %v during conversion, expected 1", state.Progress())
	}
	if state.Phase() != domain.PhaseConverting || state.Phase().IsTerminal() {
		t.Errorf("phase = %s during conversion", state.Phase())
	}
	select {
	case <-run.Done():
		t.Fatal("run finished before conversion completed")
	default:
	}

	close(tc.release)
	result, err := run.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if result.ConvertedPath != filepath.Join(dir, "Convert_2023-11-14.mp3") {
		t.Errorf("ConvertedPath = %q, status = %q", result.ConvertedPath, state.Status())
	}
	if state.Phase() != domain.PhaseSucceeded {
		t.Errorf("final phase = %s", state.Phase())
	}
}
