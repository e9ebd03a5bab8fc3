package modelhub

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/yanqian/polyglot-score/internal/domain/score"
	"github.com/yanqian/polyglot-score/internal/infra/llm/textgen"
)

// Loader builds model and tokenizer handles from the pretrained model cache.
type Loader struct {
	client textgen.Completer
	ranks  tiktoken.BpeLoader
	logger *slog.Logger
}

// NewLoader constructs a loader whose models generate through client.
func NewLoader(client textgen.Completer, logger *slog.Logger) *Loader {
	return &Loader{
		client: client,
		ranks:  tiktoken.NewDefaultBpeLoader(),
		logger: logger.With("component", "modelhub.loader"),
	}
}

// LoadModel checks the cached snapshot and returns a handle bound to the inference server.
func (l *Loader) LoadModel(ctx context.Context, opts score.LoadOptions) (score.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var manifest modelManifest
	dir, err := resolveSnapshot(opts.CacheDir, opts.PretrainedModelNameOrPath)
	switch {
	case err == nil:
		if err := readJSON(filepath.Join(dir, "config.json"), &manifest); err != nil {
			if errors.Is(err, fs.ErrNotExist) && opts.LocalFilesOnly {
				return nil, fmt.Errorf("%w: config.json", ErrNotCached)
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	case opts.LocalFilesOnly:
		return nil, err
	}
	if len(manifest.AutoMap) > 0 && !opts.TrustRemoteCode {
		return nil, fmt.Errorf("%w: %s", ErrRemoteCode, opts.PretrainedModelNameOrPath)
	}

	device := ResolveDevice(opts.Device)
	l.logger.Info("model loaded",
		"model", opts.PretrainedModelNameOrPath,
		"model_type", manifest.ModelType,
		"device", device,
		"local_files_only", opts.LocalFilesOnly,
	)
	return textgen.NewModel(l.client, opts.PretrainedModelNameOrPath, device), nil
}

// LoadTokenizer reads tokenizer_config.json from the snapshot and loads its encoding.
func (l *Loader) LoadTokenizer(ctx context.Context, opts score.LoadOptions) (score.Tokenizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	side := strings.ToLower(strings.TrimSpace(opts.PaddingSide))
	if side == "" {
		side = "right"
	}
	if side != "left" && side != "right" {
		return nil, fmt.Errorf("padding side must be left or right, got %q", opts.PaddingSide)
	}

	manifest := tokenizerManifest{Encoding: defaultEncoding, EOSToken: defaultEOSToken}
	dir, err := resolveSnapshot(opts.CacheDir, opts.PretrainedModelNameOrPath)
	if err != nil {
		if opts.LocalFilesOnly {
			return nil, err
		}
		dir = ""
	} else if err := readJSON(filepath.Join(dir, "tokenizer_config.json"), &manifest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if manifest.Encoding == "" {
		manifest.Encoding = defaultEncoding
	}

	enc, err := l.loadEncoding(manifest.Encoding, dir, opts.LocalFilesOnly)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", manifest.Encoding, err)
	}
	tok := newTokenizer(enc, string(manifest.EOSToken), manifest.maxLength(), side)
	l.logger.Debug("tokenizer loaded", "encoding", manifest.Encoding, "eos_token", tok.EOSToken(), "padding_side", side)
	return tok, nil
}

// loadEncoding reads the rank file from dir on every call. Under localOnly a
// missing rank file is ErrNotCached and nothing is fetched.
func (l *Loader) loadEncoding(name, dir string, localOnly bool) (*tiktoken.Tiktoken, error) {
	spec, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}
	ranks, err := (&cacheBpeLoader{dir: dir, localOnly: localOnly, fallback: l.ranks}).LoadTiktokenBpe(spec.url)
	if err != nil {
		return nil, err
	}
	return buildEncoding(name, spec, ranks)
}

var _ score.ModelLoader = (*Loader)(nil)
