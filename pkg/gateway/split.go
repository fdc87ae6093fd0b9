package gateway

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkLen keeps chunks safely below Discord's 2000 character limit.
const DefaultChunkLen = 1900

// SplitMessage breaks text into chunks of at most limit characters. It
// prefers paragraph boundaries, then sentence ends, then words; a single word
// longer than limit is cut.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLen
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	c := &chunker{limit: limit}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= limit {
			c.add(para, "\n\n")
			continue
		}
		sep := "\n\n"
		for _, sentence := range splitSentences(para) {
			if utf8.RuneCountInString(sentence) <= limit {
				c.add(sentence, sep)
				sep = " "
				continue
			}
			for _, word := range strings.Fields(sentence) {
				for _, piece := range cut(word, limit) {
					c.add(piece, sep)
					sep = " "
				}
			}
		}
	}
	c.flush()
	return c.chunks
}

type chunker struct {
	limit  int
	chunks []string
	cur    strings.Builder
	n      int
}

func (c *chunker) add(piece, sep string) {
	size := utf8.RuneCountInString(piece)
	sepSize := utf8.RuneCountInString(sep)
	if c.n > 0 && c.n+sepSize+size > c.limit {
		c.flush()
	}
	if c.n > 0 {
		c.cur.WriteString(sep)
		c.n += sepSize
	}
	c.cur.WriteString(piece)
	c.n += size
}

func (c *chunker) flush() {
	if c.n == 0 {
		return
	}
	c.chunks = append(c.chunks, c.cur.String())
	c.cur.Reset()
	c.n = 0
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func cut(word string, limit int) []string {
	runes := []rune(word)
	if len(runes) <= limit {
		return []string{word}
	}
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
