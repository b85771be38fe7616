package match

import (
	"errors"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Errors returned by Matcher construction.
var (
	// ErrNoExtensions is returned when the extension set is empty.
	ErrNoExtensions = errors.New("at least one extension is required")

	// ErrInvalidPattern is returned when an exclude pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
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

// Config configures a Matcher.
type Config struct {
	// Extensions are the accepted file extensions. Case and a leading dot
	// are ignored.
	Extensions []string

	// Excludes are doublestar patterns matched against root-relative,
	// slash-separated paths. A directory matching an exclude is not descended.
	Excludes []string

	// IncludeHidden admits dot-files and dot-directories.
	// Default: true (hidden files are scanned like any other).
	IncludeHidden bool

	// MinSize and MaxSize bound accepted file sizes in bytes. Zero disables
	// the bound.
	MinSize int64
	MaxSize int64
}

// Matcher evaluates scan candidates. Safe for concurrent use after creation.
type Matcher struct {
	extensions    map[string]struct{}
	excludes      []string
	includeHidden bool
	minSize       int64
	maxSize       int64
}

// New compiles a Matcher from cfg.
func New(cfg Config) (*Matcher, error) {
	exts := make(map[string]struct{}, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		if n := NormalizeExtension(e); n != "" {
			exts[n] = struct{}{}
		}
	}
	if len(exts) == 0 {
		return nil, ErrNoExtensions
	}

	excludes := make([]string, 0, len(cfg.Excludes))
	for _, raw := range cfg.Excludes {
		p := NormalizePattern(raw)
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: raw, Err: ErrInvalidPattern}
		}
		excludes = append(excludes, p)
	}

	return &Matcher{
		extensions:    exts,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
		minSize:       cfg.MinSize,
		maxSize:       cfg.MaxSize,
	}, nil
}

// MatchFile reports whether the file at rel (root-relative, slash form) with
// the given size should be harvested.
func (m *Matcher) MatchFile(rel string, size int64) bool {
	if !m.includeHidden && IsHidden(rel) {
		return false
	}
	if _, ok := m.extensions[Extension(rel)]; !ok {
		return false
	}
	if m.minSize > 0 && size < m.minSize {
		return false
	}
	if m.maxSize > 0 && size > m.maxSize {
		return false
	}
	return !m.excluded(rel)
}

// MatchDir reports whether the directory at rel should be descended.
func (m *Matcher) MatchDir(rel string) bool {
	if rel == "" || rel == "." {
		return true
	}
	if !m.includeHidden && IsHidden(rel) {
		return false
	}
	return !m.excluded(rel)
}

// Extensions returns the normalized extension set, sorted.
func (m *Matcher) Extensions() []string {
	out := make([]string, 0, len(m.extensions))
	for e := range m.extensions {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func (m *Matcher) excluded(rel string) bool {
	for _, p := range m.excludes {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}
