// Package hub resolves model files from a local Hugging Face style cache,
// downloading on miss. The cache directory is append-only and safe to share
// across processes; concurrent downloads of the same file are deduplicated
// with a file lock.
package hub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/ragline/ragline/internal/ragerr"
)

const baseURL = "https://huggingface.co"

// Resolver maps a (model repo, filename) pair to a local path. It is the
// abstract contract of the model downloader; the encoder and tokenizer only
// depend on this.
type Resolver interface {
	Resolve(ctx context.Context, modelID, filename string) (string, error)
}

// Client is the default Resolver over an on-disk cache.
type Client struct {
	cacheDir string
	http     *http.Client
}

// NewClient creates a Resolver rooted at cacheDir (typically HF_HOME).
func NewClient(cacheDir string) *Client {
	return &Client{
		cacheDir: cacheDir,
		http:     &http.Client{Timeout: 10 * time.Minute},
	}
}

// Resolve returns the local path for modelID/filename, downloading it into
// the cache when missing.
func (c *Client) Resolve(ctx context.Context, modelID, filename string) (string, error) {
	local := filepath.Join(c.cacheDir, "ragline", sanitize(modelID), filepath.FromSlash(filename))
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
		return "", fmt.Errorf("%w: create cache dir: %v", ragerr.ErrModel, err)
	}

	// One process downloads; the rest wait on the lock and find the file.
	lock := flock.New(local + ".lock")
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("%w: lock %s: %v", ragerr.ErrModel, local, err)
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", baseURL, modelID, filename)
	if err := c.download(ctx, url, local); err != nil {
		return "", err
	}
	return local, nil
}

func (c *Client) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ragerr.ErrModel, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s: %v", ragerr.ErrModel, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download %s: HTTP %d", ragerr.ErrModel, url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ragerr.ErrModel, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ragerr.ErrModel, dest, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ragerr.ErrModel, dest, err)
	}
	// Rename keeps the cache append-only: a file either exists complete or
	// not at all.
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ragerr.ErrModel, dest, err)
	}
	return nil
}

func sanitize(modelID string) string {
	return strings.ReplaceAll(modelID, "/", "--")
}
