package ffmpeg

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/ulikunitz/xz"

	"partigrab/internal/core/domain"
	"partigrab/internal/httpclient"
)

// DefaultCacheDir holds a downloaded ffmpeg when none is on PATH.
const DefaultCacheDir = "./ffmpeg-bin"

const archiveName = "ffmpeg_download"

var errEntryNotFound = errors.New("ffmpeg not found in archive")

// ArchiveURL returns the static build archive for goos, or "" when there is none.
func ArchiveURL(goos string) string {
	switch goos {
	case "linux":
		return "https://johnvansickle.com/ffmpeg/releases/ffmpeg-release-amd64-static.tar.xz"
	case "darwin":
		return "https://evermeet.cx/ffmpeg/ffmpeg-6.1.1.zip"
	case "windows":
		return "https://www.gyan.dev/ffmpeg/builds/ffmpeg-release-essentials.zip"
	default:
		return ""
	}
}

// BinaryName returns the ffmpeg executable name on goos.
func BinaryName(goos string) string {
	if goos == "windows" {
		return "ffmpeg.exe"
	}
	return "ffmpeg"
}

// Provisioner resolves ffmpeg from PATH, then the cache directory, and
// finally downloads and unpacks a static build into the cache.
type Provisioner struct {
	CacheDir   string
	ArchiveURL string
	BinaryName string

	client   *http.Client
	logger   *log.Logger
	lookPath func(string) (string, error)
	mu       sync.Mutex
}

// NewProvisioner creates a Provisioner for the running platform.
func NewProvisioner(client *http.Client, cacheDir string, logger *log.Logger) *Provisioner {
	if client == nil {
		client = httpclient.New(0, "")
	}
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Provisioner{
		CacheDir:   cacheDir,
		ArchiveURL: ArchiveURL(runtime.GOOS),
		BinaryName: BinaryName(runtime.GOOS),
		client:     client,
		logger:     logger,
		lookPath:   exec.LookPath,
	}
}

// Resolve returns a usable ffmpeg path or an error wrapping ErrProvisioningFailed.
func (p *Provisioner) Resolve(ctx context.Context) (string, error) {
	if path, err := p.lookPath("ffmpeg"); err == nil {
		return path, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	local := filepath.Join(p.CacheDir, p.BinaryName)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if p.ArchiveURL == "" {
		return "", fmt.Errorf("%w: no ffmpeg build available for %s", domain.ErrProvisioningFailed, runtime.GOOS)
	}
	p.logger.Printf("ffmpeg not found, downloading static binary from %s", p.ArchiveURL)
	if err := p.download(ctx, local); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProvisioningFailed, err)
	}
	if _, err := os.Stat(local); err != nil {
		return "", fmt.Errorf("%w: failed to download and unpack ffmpeg", domain.ErrProvisioningFailed)
	}
	return local, nil
}

func (p *Provisioner) download(ctx context.Context, dest string) error {
	if err := os.MkdirAll(p.CacheDir, 0755); err != nil {
		return err
	}
	archivePath := filepath.Join(p.CacheDir, archiveName)
	defer os.Remove(archivePath)

	if err := p.fetchArchive(ctx, archivePath); err != nil {
		return err
	}

	if strings.HasSuffix(p.ArchiveURL, ".zip") {
		return extractZip(archivePath, p.BinaryName, dest)
	}
	return extractTarXZ(archivePath, p.BinaryName, dest)
}

func (p *Provisioner) fetchArchive(ctx context.Context, archivePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ArchiveURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if !httpclient.IsSuccess(resp.StatusCode) {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func extractZip(archivePath, binName, dest string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != binName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeExecutable(dest, rc)
	}
	return errEntryNotFound
}

func extractTarXZ(archivePath, binName, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	tr := tar.NewReader(xr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return errEntryNotFound
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != binName {
			continue
		}
		return writeExecutable(dest, tr)
	}
}

func writeExecutable(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dest, 0755)
}
