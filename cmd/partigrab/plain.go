package main

import (
	"fmt"
	"io"
	"time"

	"partigrab/internal/core/domain"
	"partigrab/internal/tui"
)

// pollPlain prints a line whenever a row's status changes, until done.
func pollPlain(w io.Writer, rows []tui.Row, done <-chan struct{}, every time.Duration) {
	last := make([]string, len(rows))
	report := func() {
		for i, r := range rows {
			status, progress := r.State.Snapshot()
			if status == "" || status == last[i] {
				continue
			}
			last[i] = status
			if len(rows) > 1 {
				fmt.Fprintf(w, "[%d/%d] ", i+1, len(rows))
			}
			fmt.Fprintf(w, "%3.0f%% %s\n", progress*100, status)
		}
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			report()
			return
		case <-ticker.C:
			report()
		}
	}
}

func printSummary(w io.Writer, results []*domain.JobResult) {
	fmt.Fprintln(w, "\n=== Job Summary ===")
	for _, r := range results {
		if r == nil {
			continue
		}
		outcome := "failed"
		switch {
		case r.Aborted:
			outcome = "aborted"
		case r.Success:
			outcome = "ok"
		}
		fmt.Fprintf(w, "Job ID:       %s\n", r.Job.ID)
		fmt.Fprintf(w, "URL:          %s\n", r.Job.Request.SourceURL)
		fmt.Fprintf(w, "Outcome:      %s\n", outcome)
		if r.Metadata != nil {
			fmt.Fprintf(w, "Title:        %s (%s)\n", r.Metadata.Title, r.Metadata.Date())
		}
		if r.RawPath != "" {
			fmt.Fprintf(w, "Raw:          %s\n", r.RawPath)
		}
		if r.ConvertedPath != "" {
			fmt.Fprintf(w, "Converted:    %s\n", r.ConvertedPath)
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "Error:        %s\n", r.ErrorMessage)
		}
		if !r.CompletedAt.IsZero() {
			fmt.Fprintf(w, "Completed At: %s\n", r.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
		}
		fmt.Fprintln(w)
	}
}
