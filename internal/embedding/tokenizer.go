package embedding

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding used by the OpenAI embedding and chat models.
const DefaultEncoding = "cl100k_base"

// EncodingWords selects the whitespace word tokenizer.
const EncodingWords = "words"

// Tokenizer converts text to a token stream and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Name() string
}

// NewTokenizer returns the tokenizer for the named encoding: "words" for the
// whitespace tokenizer, anything else is looked up as a tiktoken encoding.
func NewTokenizer(encoding string) (Tokenizer, error) {
	switch encoding {
	case EncodingWords:
		return NewWordTokenizer(), nil
	case "":
		return NewTiktokenTokenizer(DefaultEncoding)
	default:
		return NewTiktokenTokenizer(encoding)
	}
}

var loaderOnce sync.Once

// TiktokenTokenizer counts tokens exactly as the OpenAI models do. BPE ranks are
// loaded from the embedded offline loader, so no network access is needed.
type TiktokenTokenizer struct {
	name string
	enc  *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named encoding (e.g. "cl100k_base").
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenTokenizer{name: encoding, enc: enc}, nil
}

// Encode returns the BPE token ids of text. Special-token markup is encoded as plain text.
func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

// Decode returns the text for tokens.
func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Name returns the encoding name.
func (t *TiktokenTokenizer) Name() string { return t.name }

// WordTokenizer treats each whitespace-separated word as one token. Ids come from a
// vocabulary grown on demand, so Decode(Encode(s)) equals s with whitespace collapsed.
type WordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

// NewWordTokenizer returns an empty word tokenizer.
func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{ids: make(map[string]int)}
}

// Encode splits text on whitespace and returns one id per word.
func (t *WordTokenizer) Encode(text string) []int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, len(words))
	for i, w := range words {
		id, ok := t.ids[w]
		if !ok {
			id = len(t.words)
			t.ids[w] = id
			t.words = append(t.words, w)
		}
		out[i] = id
	}
	return out
}

// Decode joins the words for tokens with single spaces. Unknown ids are skipped.
func (t *WordTokenizer) Decode(tokens []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(t.words) {
			parts = append(parts, t.words[id])
		}
	}
	return strings.Join(parts, " ")
}

// Name returns "words".
func (t *WordTokenizer) Name() string { return EncodingWords }

// CountTokens returns the number of tokens in text.
func CountTokens(tok Tokenizer, text string) int {
	return len(tok.Encode(text))
}
