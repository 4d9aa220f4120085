// Package segment splits generated text into sentences and measures it in
// words and tokens.
package segment

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding is the BPE vocabulary tokens are counted in. It is the
// encoding of text-embedding-3-small and the gpt-4 family.
const Encoding = "cl100k_base"

// encoder loads the vocabulary from the embedded dictionary, so counting
// never touches the network and is identical on every machine.
var encoder = sync.OnceValue(func() *tiktoken.Tiktoken {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		panic(fmt.Sprintf("segment: load %s: %v", Encoding, err))
	}
	return enc
})

// Words returns the number of whitespace-separated words in text.
func Words(text string) int {
	return len(strings.Fields(text))
}

// CountTokens returns the number of cl100k_base tokens in text. Special
// token strings such as <|endoftext|> are counted as ordinary text.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(encoder().EncodeOrdinary(text))
}

// Span is a sentence located in its source text by byte offsets.
type Span struct {
	Start int
	End   int
}

// Sentences splits text into trimmed sentences.
func Sentences(text string) []string {
	var out []string
	for _, sp := range Spans(text) {
		out = append(out, strings.TrimSpace(text[sp.Start:sp.End]))
	}
	return out
}

// Spans returns sentence spans in order. A sentence ends after a run of
// terminal punctuation (optionally followed by closing quotes or brackets)
// that is followed by whitespace or the end of the text, or at a blank line.
// Spans never include leading or trailing whitespace.
func Spans(text string) []Span {
	var spans []Span
	start := -1
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if start < 0 {
			if !unicode.IsSpace(r) {
				start = i
			}
			i += size
			continue
		}

		if r == '\n' && blankLineAt(text, i) {
			spans = append(spans, Span{Start: start, End: trimRightEnd(text, start, i)})
			start = -1
			i += size
			continue
		}

		if !isTerminal(r) {
			i += size
			continue
		}

		j := i + size
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isTerminal(r2) && !isCloser(r2) {
				break
			}
			j += s2
		}
		if j == len(text) {
			break
		}
		next, _ := utf8.DecodeRuneInString(text[j:])
		if unicode.IsSpace(next) {
			spans = append(spans, Span{Start: start, End: j})
			start = -1
		}
		i = j
	}
	if start >= 0 {
		if end := trimRightEnd(text, start, len(text)); end > start {
			spans = append(spans, Span{Start: start, End: end})
		}
	}
	return spans
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}

// blankLineAt reports whether the newline at i is followed by only
// horizontal whitespace and another newline.
func blankLineAt(text string, i int) bool {
	for j := i + 1; j < len(text); j++ {
		switch text[j] {
		case ' ', '\t', '\r':
			continue
		case '\n':
			return true
		default:
			return false
		}
	}
	return false
}

func trimRightEnd(text string, start, end int) int {
	return start + len(strings.TrimRightFunc(text[start:end], unicode.IsSpace))
}

// TruncateToTokens shortens text so that CountTokens(result) <= ceiling.
// It cuts at the last whole sentence that fits; when not even the first
// sentence fits it falls back to a whole-word cut, which is empty when the
// first word alone exceeds the ceiling. The second return value reports
// whether anything was removed.
func TruncateToTokens(text string, ceiling int) (string, bool) {
	text = strings.TrimSpace(text)
	if ceiling <= 0 {
		return "", text != ""
	}
	if CountTokens(text) <= ceiling {
		return text, false
	}

	end := -1
	for _, sp := range Spans(text) {
		if CountTokens(text[:sp.End]) > ceiling {
			break
		}
		end = sp.End
	}
	if end > 0 {
		return strings.TrimSpace(text[:end]), true
	}

	return truncateWords(text, ceiling), true
}

// truncateWords keeps the longest run of leading words whose token count
// fits the ceiling. Counts are taken on the joined prefix since BPE merges
// across word boundaries.
func truncateWords(text string, ceiling int) string {
	words := strings.Fields(text)
	kept := ""
	for _, w := range words {
		next := w
		if kept != "" {
			next = kept + " " + w
		}
		if CountTokens(next) > ceiling {
			break
		}
		kept = next
	}
	return kept
}
