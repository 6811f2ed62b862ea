package kg

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// defaultSeparators defines the hierarchy of separators for recursive splitting,
// ordered from most semantic to least semantic:
//   - "\n\n" paragraph breaks
//   - "\n"   line breaks
//   - "."    sentence endings (period kept with sentence)
//   - " "    word boundaries
//   - ""     character level (last resort)
var defaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// TextChunk is one piece of a text source, with byte offsets into the
// trimmed source text. Chunks become Chunk nodes in the subject graph.
type TextChunk struct {
	Source string
	ID     string
	Index  int
	Text   string
	Start  int
	End    int
}

// TextChunker splits text using a recursive character text splitter with no
// overlap between chunks.
//
// The algorithm tries to split on the most semantically meaningful boundaries
// first (paragraphs), falling back to less meaningful ones (sentences, words,
// characters) only when necessary to fit within ChunkSize.
type TextChunker struct {
	ChunkSize int
}

// Chunk splits a source document into stable chunk IDs with byte offsets.
//
// The recursive splitting process:
//  1. try to split by paragraph breaks ("\n\n")
//  2. merge adjacent pieces while they fit within ChunkSize
//  3. if any piece is still too large, recursively split using line breaks ("\n")
//  4. continue with sentence breaks (". "), word breaks (" "), then characters
func (c TextChunker) Chunk(ctx context.Context, source string, text string) ([]TextChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil
	}

	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}

	pieces := recursiveSplit(trimmed, defaultSeparators, chunkSize)

	chunks := make([]TextChunk, 0, len(pieces))
	pos := 0
	trimmedLen := len(trimmed)
	for i, piece := range pieces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if pos < 0 {
			pos = 0
		}
		if pos > trimmedLen {
			pos = trimmedLen
		}

		// find piece in original text starting from pos
		idx := strings.Index(trimmed[pos:], piece)
		if idx < 0 {
			// fallback: best-effort search across full text; if still missing, anchor at pos
			if absoluteIdx := strings.Index(trimmed, piece); absoluteIdx >= 0 {
				idx = absoluteIdx - pos
			} else {
				idx = 0
			}
		}
		start := pos + idx
		if start < 0 {
			start = 0
		}
		if start > trimmedLen {
			start = trimmedLen
		}
		end := start + len(piece)
		if end > trimmedLen {
			end = trimmedLen
		}
		if end < start {
			end = start
		}

		chunks = append(chunks, TextChunk{
			Source: source,
			ID:     fmt.Sprintf("%s-chunk-%03d", source, i),
			Index:  i,
			Text:   piece,
			Start:  start,
			End:    end,
		})
		pos = end
	}

	return chunks, nil
}

// recursiveSplit splits text using a hierarchy of separators.
// it tries the first separator, merges small pieces, and recursively splits
// any pieces that are still too large using the remaining separators.
func recursiveSplit(text string, separators []string, chunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(text) <= chunkSize {
		return []string{text}
	}

	// no separators left: hard split by runes
	if len(separators) == 0 {
		return hardSplitByRunes(text, chunkSize)
	}

	sep := separators[0]
	remainingSeps := separators[1:]

	// empty separator means character-level split
	if sep == "" {
		return hardSplitByRunes(text, chunkSize)
	}

	parts := strings.Split(text, sep)

	// for sentence-ending separators, keep the separator with the left part
	keepSepLeft := (sep == ".")

	merged := mergeSmallPieces(parts, sep, chunkSize, keepSepLeft)

	var result []string
	for _, piece := range merged {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		if len(piece) <= chunkSize {
			result = append(result, piece)
		} else {
			subPieces := recursiveSplit(piece, remainingSeps, chunkSize)
			result = append(result, subPieces...)
		}
	}

	return result
}

// mergeSmallPieces combines adjacent pieces with the separator while they fit
// within chunkSize. this reassembles text that was split too aggressively.
// if keepSepLeft is true, the separator is appended to the left part (e.g., for periods).
func mergeSmallPieces(parts []string, sep string, chunkSize int, keepSepLeft bool) []string {
	if len(parts) == 0 {
		return nil
	}

	var result []string
	var current strings.Builder

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if current.Len() == 0 {
			current.WriteString(part)
			continue
		}

		if keepSepLeft {
			// separator goes with left part (e.g., period at end of sentence)
			newLen := current.Len() + len(sep) + 1 + len(part)

			if newLen <= chunkSize {
				current.WriteString(sep)
				current.WriteString(" ")
				current.WriteString(part)
			} else {
				current.WriteString(sep)
				result = append(result, current.String())
				current.Reset()
				current.WriteString(part)
			}
		} else {
			newLen := current.Len() + len(sep) + len(part)

			if newLen <= chunkSize {
				current.WriteString(sep)
				current.WriteString(part)
			} else {
				result = append(result, current.String())
				current.Reset()
				current.WriteString(part)
			}
		}
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// hardSplitByRunes splits text into chunks of at most chunkSize bytes,
// respecting utf-8 rune boundaries. this is the last resort when no
// semantic separator can break the text small enough.
func hardSplitByRunes(text string, chunkSize int) []string {
	if len(text) <= chunkSize {
		return []string{text}
	}

	var result []string
	var current strings.Builder

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)

		if current.Len() > 0 && current.Len()+runeBytes > chunkSize {
			result = append(result, current.String())
			current.Reset()
		}

		current.WriteRune(r)
	}

	if current.Len() > 0 {
		s := strings.TrimSpace(current.String())
		if s != "" {
			result = append(result, s)
		}
	}

	return result
}
