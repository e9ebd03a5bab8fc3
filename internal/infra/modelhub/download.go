package modelhub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// ErrModelNotFound is returned when the weights source has no files for a model.
var ErrModelNotFound = errors.New("model not found in weights source")

// RemoteFile is one file of a model snapshot in the weights source.
type RemoteFile struct {
	Name string
	Size int64
}

// Source serves pretrained model files.
type Source interface {
	Files(ctx context.Context, modelID string) ([]RemoteFile, error)
	Open(ctx context.Context, modelID, name string) (io.ReadCloser, error)
}

// DistributedLock serializes downloads across replicas.
type DistributedLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// DownloaderConfig controls where and how snapshots are fetched.
type DownloaderConfig struct {
	CacheDir    string
	LockTimeout time.Duration
	LockTTL     time.Duration
	// RankFileDir holds pre-fetched .tiktoken rank files. When empty, rank
	// files a snapshot lacks are fetched from their published URL.
	RankFileDir string
}

// Downloader copies model snapshots from a Source into the local cache.
type Downloader struct {
	cfg    DownloaderConfig
	source Source
	lock   DistributedLock
	ranks  tiktoken.BpeLoader
	logger *slog.Logger
}

// NewDownloader constructs a Downloader.
func NewDownloader(cfg DownloaderConfig, source Source, lock DistributedLock, logger *slog.Logger) *Downloader {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Downloader{
		cfg:    cfg,
		source: source,
		lock:   lock,
		ranks:  tiktoken.NewDefaultBpeLoader(),
		logger: logger.With("component", "modelhub.downloader"),
	}
}

// Download fetches modelID into the cache unless another process already did.
// Files are staged outside the cache directory and moved in only once complete,
// so the cache directory never holds a partial snapshot. A snapshot always
// carries the rank file of its tokenizer encoding, so it can be loaded with
// local_files_only.
func (d *Downloader) Download(ctx context.Context, modelID string) error {
	if d.lock != nil {
		release, err := d.lock.Acquire(ctx, "model-download:"+modelID, d.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("acquire download lock: %w", err)
		}
		defer release()
	}

	parent := filepath.Dir(filepath.Clean(d.cfg.CacheDir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create cache parent: %w", err)
	}
	lock, err := newFileLock(filepath.Clean(d.cfg.CacheDir)+".lock", d.cfg.LockTimeout)
	if err != nil {
		return err
	}
	if err := lock.Lock(ctx); err != nil {
		lock.Unlock()
		return err
	}
	defer lock.Unlock()

	target := SnapshotDir(d.cfg.CacheDir, modelID)
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		d.logger.Info("model snapshot already cached", "model", modelID, "path", target)
		return d.ensureRankFile(ctx, target)
	}

	files, err := d.source.Files(ctx, modelID)
	if err != nil {
		return fmt.Errorf("list model files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
	}

	staging, err := os.MkdirTemp(parent, ".download-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	start := time.Now()
	var total int64
	for _, f := range files {
		n, err := d.fetch(ctx, modelID, f, staging)
		if err != nil {
			return err
		}
		total += n
	}
	if err := d.ensureRankFile(ctx, staging); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create snapshot parent: %w", err)
	}
	if err := os.Rename(staging, target); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	d.logger.Info("model snapshot downloaded", "model", modelID, "files", len(files), "bytes", total, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (d *Downloader) fetch(ctx context.Context, modelID string, f RemoteFile, staging string) (int64, error) {
	rel, err := safeRelPath(f.Name)
	if err != nil {
		return 0, err
	}
	dst := filepath.Join(staging, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create dir for %s: %w", rel, err)
	}

	src, err := d.source.Open(ctx, modelID, f.Name)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", rel, err)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("copy %s: %w", f.Name, copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close %s: %w", rel, closeErr)
	}
	if f.Size > 0 && n != f.Size {
		return 0, fmt.Errorf("size mismatch for %s: got %d want %d", f.Name, n, f.Size)
	}
	return n, nil
}

// ensureRankFile writes the .tiktoken file named by the snapshot's
// tokenizer_config.json encoding (cl100k_base when unset) into dir.
func (d *Downloader) ensureRankFile(ctx context.Context, dir string) error {
	manifest := tokenizerManifest{Encoding: defaultEncoding}
	if err := readJSON(filepath.Join(dir, "tokenizer_config.json"), &manifest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if manifest.Encoding == "" {
		manifest.Encoding = defaultEncoding
	}
	spec, err := lookupEncoding(manifest.Encoding)
	if err != nil {
		return err
	}
	dst := filepath.Join(dir, spec.rankFile())
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	src := spec.url
	if d.cfg.RankFileDir != "" {
		src = filepath.Join(d.cfg.RankFileDir, spec.rankFile())
	}
	ranks, err := d.ranks.LoadTiktokenBpe(src)
	if err != nil {
		return fmt.Errorf("fetch %s ranks: %w", manifest.Encoding, err)
	}
	if len(ranks) == 0 {
		return fmt.Errorf("fetch %s ranks: empty rank file", manifest.Encoding)
	}
	if err := writeBpeFile(dst, ranks); err != nil {
		return err
	}
	d.logger.Info("tokenizer ranks cached", "encoding", manifest.Encoding, "source", src, "tokens", len(ranks))
	return nil
}

func safeRelPath(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(name, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid model file name %q", name)
	}
	return clean, nil
}
