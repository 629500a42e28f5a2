package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"partigrab/internal/adapters/hls"
	"partigrab/internal/adapters/localstorage"
	"partigrab/internal/adapters/parti"
	"partigrab/internal/core/domain"
	"partigrab/internal/metrics"
)

// fixture serves the metadata API under /api/recent/ and playlists and
// segments under /watch/, all from one map of path to body.
type fixture struct {
	t    *testing.T
	srv  *httptest.Server
	mu   sync.Mutex
	docs map[string]string
	hook func(path string) // called before a document is served
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, docs: make(map[string]string)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body, ok := f.docs[r.URL.Path]
		hook := f.hook
		f.mu.Unlock()
		if hook != nil {
			hook(r.URL.Path)
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) set(path, body string) {
	f.mu.Lock()
	f.docs[path] = body
	f.mu.Unlock()
}

func (f *fixture) setHook(hook func(path string)) {
	f.mu.Lock()
	f.hook = hook
	f.mu.Unlock()
}

// addRecording registers API metadata, a master, a variant and the given
// segments for video id. Segment bodies are "<id>-<name>;".
func (f *fixture) addRecording(id, apiJSON string, segments ...string) {
	f.set("/api/recent/"+id, apiJSON)
	f.set("/watch/rec/"+id+"/master.m3u8", "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nhi/playlist.m3u8\n")
	variant := "#EXTM3U\n"
	for _, s := range segments {
		variant += "#EXTINF:2.0,\n" + s + ".ts\n"
		f.set("/watch/rec/"+id+"/hi/"+s+".ts", id+"-"+s+";")
	}
	f.set("/watch/rec/"+id+"/hi/playlist.m3u8", variant)
}

type fakeTranscoder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (ft *fakeTranscoder) Convert(ctx context.Context, input, output string, format domain.Format) error {
	ft.mu.Lock()
	ft.calls++
	ft.mu.Unlock()
	if ft.err != nil {
		_ = os.WriteFile(output, []byte("partial"), 0644)
		return ft.err
	}
	return os.WriteFile(output, []byte("converted:"+string(format)), 0644)
}

func (f *fixture) orchestrator(tc *fakeTranscoder) *Orchestrator {
	f.t.Helper()
	client := f.srv.Client()
	resolver, err := hls.NewResolver(client, f.srv.URL+"/watch/", nil)
	if err != nil {
		f.t.Fatalf("NewResolver() error = %v", err)
	}
	m := metrics.New(prometheus.NewRegistry())
	if tc == nil {
		tc = &fakeTranscoder{}
	}
	return NewOrchestrator(
		parti.NewClient(client, f.srv.URL+"/api/recent", nil),
		resolver,
		hls.NewFetcher(client, m),
		localstorage.NewLocalStorage(""),
		tc,
		m,
		nil,
	)
}

func videoURL(id string) string {
	return "https://parti.com/video/" + id
}
