package objectfeed

import (
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError names the pattern that failed validation.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Filter selects object keys with doublestar globs. With no include
// patterns every key is a candidate; a key matching any exclude is dropped.
// Keys with a path segment starting with "." are always skipped.
type Filter struct {
	includes []string
	excludes []string
}

func NewFilter(includes, excludes []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.includes, err = compile(includes); err != nil {
		return nil, err
	}
	if f.excludes, err = compile(excludes); err != nil {
		return nil, err
	}
	return f, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *Filter) Match(key string) bool {
	if key == "" || strings.HasSuffix(key, "/") || hidden(key) {
		return false
	}
	if len(f.includes) > 0 && !anyMatch(f.includes, key) {
		return false
	}
	return !anyMatch(f.excludes, key)
}

func anyMatch(patterns []string, key string) bool {
	for _, p := range patterns {
		// Patterns are validated up front, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, key); ok {
			return true
		}
	}
	return false
}

func hidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
