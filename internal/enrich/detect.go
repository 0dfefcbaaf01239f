// Package enrich implements the chunked enrichment pipeline: the per-record
// resolution state machine and the bounded-memory file processor driving it.
package enrich

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

const (
	// encodingSampleSize is how many bytes are inspected for detection.
	encodingSampleSize = 100 * 1024

	// encodingConfidenceThreshold below which the byte-preserving Latin-1
	// fallback is used instead of the detected candidate.
	encodingConfidenceThreshold = 0.5

	// delimiterSampleSize bounds the delimiter detection sample.
	delimiterSampleSize = 8 * 1024
)

// EncodingGuess is the outcome of encoding detection. The chosen Encoding
// always decodes without error: UTF-8 variants replace invalid sequences and
// Latin-1 maps every byte.
type EncodingGuess struct {
	Encoding   encoding.Encoding
	Name       string
	Confidence float64
}

// DetectEncoding inspects a leading byte sample and picks the
// highest-confidence candidate. Candidates below the confidence threshold
// fall back to Latin-1, which preserves all byte values.
func DetectEncoding(sample []byte) EncodingGuess {
	guess := detectCandidate(sample)
	if guess.Confidence < encodingConfidenceThreshold {
		return EncodingGuess{charmap.ISO8859_1, "latin-1", guess.Confidence}
	}
	return guess
}

func detectCandidate(sample []byte) EncodingGuess {
	if len(sample) > encodingSampleSize {
		sample = sample[:encodingSampleSize]
	}

	switch {
	case bytes.HasPrefix(sample, []byte{0xEF, 0xBB, 0xBF}):
		return EncodingGuess{unicode.UTF8BOM, "utf-8-bom", 1.0}
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return EncodingGuess{unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), "utf-16le", 1.0}
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return EncodingGuess{unicode.UTF16(unicode.BigEndian, unicode.UseBOM), "utf-16be", 1.0}
	}

	if utf8.Valid(sample) {
		// Multi-byte sequences distinguish real UTF-8 from plain ASCII,
		// where any single-byte encoding would decode identically.
		if hasMultibyte(sample) {
			return EncodingGuess{unicode.UTF8, "utf-8", 0.95}
		}
		return EncodingGuess{unicode.UTF8, "utf-8", 0.7}
	}

	// Not valid UTF-8: no multi-byte candidate is trustworthy, so report a
	// low-confidence single-byte guess and let the threshold route it to
	// the Latin-1 fallback.
	return EncodingGuess{charmap.ISO8859_1, "latin-1", 0.4}
}

func hasMultibyte(sample []byte) bool {
	for _, b := range sample {
		if b >= 0x80 {
			return true
		}
	}
	return false
}

// delimiterCandidates in tie-break priority order.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// DetectDelimiter picks the most frequent candidate delimiter in the first
// line of the decoded sample. Defaults to comma when nothing matches.
func DetectDelimiter(sample string) rune {
	if len(sample) > delimiterSampleSize {
		sample = sample[:delimiterSampleSize]
	}
	if i := strings.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}

	best := ','
	bestCount := 0
	for _, cand := range delimiterCandidates {
		count := 0
		for _, r := range sample {
			if r == cand {
				count++
			}
		}
		if count > bestCount {
			best = cand
			bestCount = count
		}
	}
	return best
}
