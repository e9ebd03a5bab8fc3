package modelhub

import (
	"fmt"
	"path"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = tiktoken.MODEL_CL100K_BASE

const (
	p50kPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
	encodingURL = "https://openaipublic.blob.core.windows.net/encodings/"
)

// encodingSpec describes a BPE encoding whose ranks live in a .tiktoken file.
type encodingSpec struct {
	url     string
	pattern string
	special map[string]int
}

// rankFile is the file name the ranks are cached under inside a snapshot.
func (s encodingSpec) rankFile() string {
	return path.Base(s.url)
}

var encodingSpecs = map[string]encodingSpec{
	tiktoken.MODEL_CL100K_BASE: {
		url:     encodingURL + "cl100k_base.tiktoken",
		pattern: `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`,
		special: map[string]int{
			tiktoken.ENDOFTEXT:   100257,
			tiktoken.FIM_PREFIX:  100258,
			tiktoken.FIM_MIDDLE:  100259,
			tiktoken.FIM_SUFFIX:  100260,
			tiktoken.ENDOFPROMPT: 100276,
		},
	},
	tiktoken.MODEL_O200K_BASE: {
		url: encodingURL + "o200k_base.tiktoken",
		pattern: strings.Join([]string{
			`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?`,
			`[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?`,
			`\p{N}{1,3}`,
			` ?[^\s\p{L}\p{N}]+[\r\n/]*`,
			`\s*[\r\n]+`,
			`\s+(?!\S)`,
			`\s+`,
		}, "|"),
		special: map[string]int{
			tiktoken.ENDOFTEXT:   199999,
			tiktoken.ENDOFPROMPT: 200018,
		},
	},
	tiktoken.MODEL_P50K_BASE: {
		url:     encodingURL + "p50k_base.tiktoken",
		pattern: p50kPattern,
		special: map[string]int{tiktoken.ENDOFTEXT: 50256},
	},
	tiktoken.MODEL_P50K_EDIT: {
		url:     encodingURL + "p50k_base.tiktoken",
		pattern: p50kPattern,
		special: map[string]int{
			tiktoken.ENDOFTEXT:  50256,
			tiktoken.FIM_PREFIX: 50281,
			tiktoken.FIM_MIDDLE: 50282,
			tiktoken.FIM_SUFFIX: 50283,
		},
	},
	tiktoken.MODEL_R50K_BASE: {
		url:     encodingURL + "r50k_base.tiktoken",
		pattern: p50kPattern,
		special: map[string]int{tiktoken.ENDOFTEXT: 50256},
	},
}

func lookupEncoding(name string) (encodingSpec, error) {
	spec, ok := encodingSpecs[name]
	if !ok {
		return encodingSpec{}, fmt.Errorf("unknown encoding %q", name)
	}
	return spec, nil
}

// buildEncoding constructs a tokenizer from ranks read for this load only.
// Encodings are never shared across loads; tiktoken.GetEncoding memoizes by
// name for the life of the process.
func buildEncoding(name string, spec encodingSpec, ranks map[string]int) (*tiktoken.Tiktoken, error) {
	bpe, err := tiktoken.NewCoreBPE(ranks, spec.special, spec.pattern)
	if err != nil {
		return nil, fmt.Errorf("build bpe %s: %w", name, err)
	}
	specialSet := make(map[string]any, len(spec.special))
	for token := range spec.special {
		specialSet[token] = true
	}
	enc := &tiktoken.Encoding{
		Name:           name,
		PatStr:         spec.pattern,
		MergeableRanks: ranks,
		SpecialTokens:  spec.special,
	}
	return tiktoken.NewTiktoken(bpe, enc, specialSet), nil
}
