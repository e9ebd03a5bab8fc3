package modelhub

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/yanqian/polyglot-score/internal/domain/score"
)

const defaultEOSToken = "<|endoftext|>"

// Tokenizer wraps a tiktoken encoding with the padding and length settings of
// a pretrained tokenizer.
type Tokenizer struct {
	enc *tiktoken.Tiktoken

	mu          sync.RWMutex
	eosToken    string
	eosTokenID  int
	padToken    string
	padTokenID  int
	maxLength   int
	paddingSide string
}

func newTokenizer(enc *tiktoken.Tiktoken, eosToken string, maxLength int, paddingSide string) *Tokenizer {
	if eosToken == "" {
		eosToken = defaultEOSToken
	}
	eosID := -1
	if ids := enc.Encode(eosToken, []string{"all"}, nil); len(ids) == 1 {
		eosID = ids[0]
	}
	return &Tokenizer{
		enc:         enc,
		eosToken:    eosToken,
		eosTokenID:  eosID,
		padTokenID:  -1,
		maxLength:   maxLength,
		paddingSide: paddingSide,
	}
}

func (t *Tokenizer) EOSToken() string { return t.eosToken }

func (t *Tokenizer) EOSTokenID() int { return t.eosTokenID }

func (t *Tokenizer) PadToken() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.padToken
}

func (t *Tokenizer) PadTokenID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.padTokenID
}

func (t *Tokenizer) SetPadToken(token string, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.padToken = token
	t.padTokenID = id
}

func (t *Tokenizer) ModelMaxLength() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxLength
}

func (t *Tokenizer) SetModelMaxLength(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxLength = n
}

func (t *Tokenizer) PaddingSide() string { return t.paddingSide }

// Encode tokenizes text. Special tokens in the input are treated as plain text.
func (t *Tokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) Decode(ids []int) string {
	return t.enc.Decode(ids)
}

var _ score.Tokenizer = (*Tokenizer)(nil)
