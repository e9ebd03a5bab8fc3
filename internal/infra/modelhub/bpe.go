package modelhub

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// cacheBpeLoader resolves tiktoken rank files from a model snapshot before
// falling back to the network.
type cacheBpeLoader struct {
	dir       string
	localOnly bool
	fallback  tiktoken.BpeLoader
}

func (l *cacheBpeLoader) LoadTiktokenBpe(file string) (map[string]int, error) {
	local := path.Base(file)
	if l.dir != "" {
		local = filepath.Join(l.dir, local)
		ranks, err := readBpeFile(local)
		if err == nil {
			return ranks, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if l.localOnly || l.fallback == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, local)
	}
	return l.fallback.LoadTiktokenBpe(file)
}

// readBpeFile parses "<base64 token> <rank>" lines.
func readBpeFile(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ranks := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		parts := strings.Fields(text)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%s:%d: malformed rank line", filepath.Base(path), line)
		}
		token, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		rank, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		ranks[string(token)] = rank
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ranks, nil
}

// writeBpeFile stores ranks in the format readBpeFile parses, ordered by rank.
// The file appears under path only once fully written.
func writeBpeFile(path string, ranks map[string]int) error {
	tokens := make([]string, 0, len(ranks))
	for token := range ranks {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return ranks[tokens[i]] < ranks[tokens[j]] })

	tmp, err := os.CreateTemp(filepath.Dir(path), ".ranks-*")
	if err != nil {
		return fmt.Errorf("create rank file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, token := range tokens {
		fmt.Fprintf(w, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(token)), ranks[token])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write rank file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rank file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
