// Package docsource reads and appends document records kept as JSON lines.
//
// Each line is one record:
//
//	{"id":"...","headers":{"title":"..."},"body":"..."}
//
// Records are kept in arrival order. A missing file is an empty source.
package docsource

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/OneOfOne/xxhash"
	"github.com/microcosm-cc/bluemonday"
)

// maxLineBytes bounds a single record.
const maxLineBytes = 4 * 1024 * 1024

// Document is one record from a source.
type Document struct {
	ID      string            `json:"id"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// Source names a document file.
type Source struct {
	Name string `mapstructure:"name" json:"name"`
	Path string `mapstructure:"path" json:"path"`
}

// Read returns the records stored at path in file order.
//
// Blank lines are skipped. A record without an id gets a content-derived one
// so it can still be deduplicated.
func Read(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open document source: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var docs []Document
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("%s:%d: parse document: %w", path, line, err)
		}
		if strings.TrimSpace(doc.ID) == "" {
			doc.ID = ContentID(doc.Body)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: read documents: %w", path, err)
	}
	return docs, nil
}

var appendMu sync.Mutex

// Append writes docs to the end of path, creating it if needed.
func Append(path string, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}
	appendMu.Lock()
	defer appendMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open document source: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			doc.ID = ContentID(doc.Body)
		}
		if err := enc.Encode(doc); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write documents: %w", err)
	}
	return f.Close()
}

// ContentID derives an id from a document body.
func ContentID(body string) string {
	h := xxhash.NewS64(0)
	_, _ = h.Write([]byte(body))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return "xx:" + hex.EncodeToString(buf[:])
}

// Unseen returns up to limit documents for which seen reports false, oldest
// first. A non-positive limit returns all of them.
func Unseen(docs []Document, seen func(id string) bool, limit int) []Document {
	var out []Document
	for _, doc := range docs {
		if seen != nil && seen(doc.ID) {
			continue
		}
		out = append(out, doc)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Header returns the value for key, matched case-insensitively.
func (d Document) Header(key string) string {
	if v, ok := d.Headers[key]; ok {
		return v
	}
	for k, v := range d.Headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

func stripPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// PlainBody returns the body with markup removed and whitespace collapsed,
// truncated to max runes. A non-positive max disables truncation.
func (d Document) PlainBody(max int) string {
	text := html.UnescapeString(stripPolicy().Sanitize(d.Body))
	text = strings.Join(strings.Fields(text), " ")
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max])) + "…"
}
