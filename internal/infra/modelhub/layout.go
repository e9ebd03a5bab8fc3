package modelhub

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrNotCached is returned when local_files_only is set and a file is absent from the cache.
	ErrNotCached = errors.New("model file not found in local cache")
	// ErrRemoteCode is returned when a model needs custom code but trust_remote_code is off.
	ErrRemoteCode = errors.New("model requires trust_remote_code")
)

const snapshotRevision = "main"

// RepoDirName maps "org/name" to the cache directory name "models--org--name".
func RepoDirName(modelID string) string {
	return "models--" + strings.ReplaceAll(strings.Trim(modelID, "/"), "/", "--")
}

// SnapshotDir is where the files of modelID live inside cacheDir.
func SnapshotDir(cacheDir, modelID string) string {
	return filepath.Join(cacheDir, RepoDirName(modelID), "snapshots", snapshotRevision)
}

// resolveSnapshot returns a directory holding the model files. A model id that
// is itself a local directory is used as is.
func resolveSnapshot(cacheDir, modelIDOrPath string) (string, error) {
	if info, err := os.Stat(modelIDOrPath); err == nil && info.IsDir() {
		return modelIDOrPath, nil
	}
	dir := SnapshotDir(cacheDir, modelIDOrPath)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotCached, dir)
	}
	return dir, nil
}

type modelManifest struct {
	ModelType             string            `json:"model_type"`
	Architectures         []string          `json:"architectures"`
	AutoMap               map[string]string `json:"auto_map"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
}

type tokenizerManifest struct {
	Encoding       string       `json:"encoding"`
	EOSToken       specialToken `json:"eos_token"`
	ModelMaxLength json.Number  `json:"model_max_length"`
}

// maxLength converts model_max_length to an int. Tokenizers without a limit
// store a 1e30 sentinel, which clamps to math.MaxInt.
func (m tokenizerManifest) maxLength() int {
	if m.ModelMaxLength == "" {
		return 0
	}
	if n, err := m.ModelMaxLength.Int64(); err == nil && n <= math.MaxInt {
		return int(max(n, 0))
	}
	f, err := m.ModelMaxLength.Float64()
	switch {
	case err != nil && !errors.Is(err, strconv.ErrRange), f <= 0:
		return 0
	case f >= math.MaxInt:
		return math.MaxInt
	default:
		return int(f)
	}
}

// specialToken accepts both "<tok>" and {"content": "<tok>", ...}.
type specialToken string

func (t *specialToken) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = specialToken(s)
		return nil
	}
	var added struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &added); err != nil {
		return fmt.Errorf("eos_token: %w", err)
	}
	*t = specialToken(added.Content)
	return nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
