package ffmpeg

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"partigrab/internal/core/domain"
)

func notOnPath(string) (string, error) {
	return "", errors.New("not found")
}

func tarXZ(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz.NewWriter() error = %v", err)
	}
	tw := tar.NewWriter(xw)
	if err := tw.WriteHeader(&tar.Header{Name: "ffmpeg-7.0-amd64-static/readme.txt", Mode: 0644, Size: 2, Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	_, _ = tw.Write([]byte("hi"))
	if err := tw.WriteHeader(&tar.Header{Name: "ffmpeg-7.0-amd64-static/" + name, Mode: 0755, Size: int64(len(content)), Typeflag: tar.TypeReg}); err != nil {
		t.Fatal(err)
	}
	_, _ = tw.Write(content)
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func zipped(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("ffmpeg-release/bin/" + name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = w.Write(content)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newArchiveServer(t *testing.T, path string, body []byte, hits *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_PrefersPath(t *testing.T) {
	p := NewProvisioner(nil, t.TempDir(), nil)
	p.lookPath = func(string) (string, error) { return "/usr/bin/ffmpeg", nil }

	got, err := p.Resolve(context.Background())
	if err != nil || got != "/usr/bin/ffmpeg" {
		t.Errorf("Resolve() = %q, %v", got, err)
	}
}

func TestResolve_UsesCache(t *testing.T) {
	dir := t.TempDir()
	cached := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(cached, []byte("bin"), 0755); err != nil {
		t.Fatal(err)
	}
	p := NewProvisioner(nil, dir, nil)
	p.lookPath = notOnPath
	p.BinaryName = "ffmpeg"
	p.ArchiveURL = "http://127.0.0.1:1/never-fetched.tar.xz"

	got, err := p.Resolve(context.Background())
	if err != nil || got != cached {
		t.Errorf("Resolve() = %q, %v; expected %q", got, err, cached)
	}
}

func TestResolve_DownloadsArchives(t *testing.T) {
	content := []byte("#!/bin/sh\nexit 0\n")
	tests := []struct {
		name    string
		urlPath string
		body    func(t *testing.T) []byte
	}{
		{"tar.xz", "/ffmpeg-release-amd64-static.tar.xz", func(t *testing.T) []byte { return tarXZ(t, "ffmpeg", content) }},
		{"zip", "/ffmpeg-6.1.1.zip", func(t *testing.T) []byte { return zipped(t, "ffmpeg", content) }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			hits := 0
			srv := newArchiveServer(t, test.urlPath, test.body(t), &hits)
			dir := filepath.Join(t.TempDir(), "cache")

			p := NewProvisioner(srv.Client(), dir, nil)
			p.lookPath = notOnPath
			p.BinaryName = "ffmpeg"
			p.ArchiveURL = srv.URL + test.urlPath

			got, err := p.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			data, err := os.ReadFile(got)
			if err != nil || !bytes.Equal(data, content) {
				t.Errorf("binary = %q, %v", data, err)
			}
			info, _ := os.Stat(got)
			if info.Mode().Perm()&0100 == 0 {
				t.Errorf("binary mode = %v, expected executable", info.Mode())
			}
			if _, err := os.Stat(filepath.Join(dir, archiveName)); !os.IsNotExist(err) {
				t.Errorf("archive left behind: %v", err)
			}

			if _, err := p.Resolve(context.Background()); err != nil {
				t.Fatalf("second Resolve() error = %v", err)
			}
			if hits != 1 {
				t.Errorf("archive fetched %d times, expected 1", hits)
			}
		})
	}
}

func TestResolve_Failures(t *testing.T) {
	hits := 0
	srv := newArchiveServer(t, "/other.zip", zipped(t, "not-ffmpeg", []byte("x")), &hits)

	tests := []struct {
		name string
		url  string
	}{
		{"http error", srv.URL + "/missing.tar.xz"},
		{"entry missing", srv.URL + "/other.zip"},
		{"no platform build", ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := NewProvisioner(srv.Client(), t.TempDir(), nil)
			p.lookPath = notOnPath
			p.BinaryName = "ffmpeg"
			p.ArchiveURL = test.url

			_, err := p.Resolve(context.Background())
			if !errors.Is(err, domain.ErrProvisioningFailed) {
				t.Errorf("error = %v, expected ErrProvisioningFailed", err)
			}
		})
	}
}

func TestArchiveURL(t *testing.T) {
	for _, goos := range []string{"linux", "darwin", "windows"} {
		if ArchiveURL(goos) == "" {
			t.Errorf("ArchiveURL(%q) is empty", goos)
		}
	}
	if ArchiveURL("plan9") != "" {
		t.Error("expected no archive for plan9")
	}
	if BinaryName("windows") != "ffmpeg.exe" || BinaryName("linux") != "ffmpeg" {
		t.Error("unexpected binary names")
	}
}
