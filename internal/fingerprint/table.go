package fingerprint

import (
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/dlclark/regexp2"
)

// Param is a single key/value attribute attached to a fingerprint
type Param struct {
	Position int    `json:"position"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// Entry is one fingerprint: a digest pattern and the product metadata it identifies
type Entry struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
	Params      []Param  `json:"parameters"`
	IgnoreCase  bool     `json:"-"`
}

// Param returns the value of the named parameter, or "" if the entry has none
func (e *Entry) Param(name string) string {
	for _, p := range e.Params {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// regexp2 patterns are backtracking; cap each match attempt
const backtrackTimeout = 100 * time.Millisecond

type matcher interface {
	MatchString(s string) (bool, error)
}

type re2Matcher struct {
	re *regexp.Regexp
}

func (m re2Matcher) MatchString(s string) (bool, error) {
	return m.re.MatchString(s), nil
}

type rule struct {
	entry *Entry
	re    matcher
}

// Table is an ordered, compiled fingerprint corpus. It is never mutated after
// Load returns and may be shared by any number of concurrent readers.
type Table struct {
	Matches      string
	Protocol     string
	DatabaseType string

	rules  []rule
	index  map[string]int
	logger *slog.Logger
}

func newTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Table{
		index:  make(map[string]int),
		logger: logger,
	}
}

// add compiles and appends an entry. A pattern already present keeps its
// position and takes the new entry's content.
func (t *Table) add(e *Entry) error {
	re, err := compile(e.Pattern, e.IgnoreCase)
	if err != nil {
		return err
	}
	if i, ok := t.index[e.Pattern]; ok {
		t.rules[i] = rule{entry: e, re: re}
		return nil
	}
	t.index[e.Pattern] = len(t.rules)
	t.rules = append(t.rules, rule{entry: e, re: re})
	return nil
}

// compile prefers RE2 and falls back to regexp2 for PCRE-only constructs
// such as lookarounds and backreferences.
func compile(pattern string, ignoreCase bool) (matcher, error) {
	expr := pattern
	if ignoreCase {
		expr = "(?i)" + pattern
	}
	if re, err := regexp.Compile(expr); err == nil {
		return re2Matcher{re: re}, nil
	}

	opts := regexp2.None
	if ignoreCase {
		opts = regexp2.IgnoreCase
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = backtrackTimeout
	return re, nil
}

// Len returns the number of fingerprints in the table
func (t *Table) Len() int {
	return len(t.rules)
}

// Get returns the entry registered under pattern
func (t *Table) Get(pattern string) (*Entry, bool) {
	i, ok := t.index[pattern]
	if !ok {
		return nil, false
	}
	return t.rules[i].entry, true
}

// Entries returns the fingerprints in match order
func (t *Table) Entries() []*Entry {
	entries := make([]*Entry, len(t.rules))
	for i, r := range t.rules {
		entries[i] = r.entry
	}
	return entries
}

// Match scans the table in order and returns the first entry whose pattern
// finds a match anywhere in digest. Patterns only anchor if they say so.
func (t *Table) Match(digest string) (*Entry, bool) {
	for _, r := range t.rules {
		ok, err := r.re.MatchString(digest)
		if err != nil {
			// regexp2 timeout: this rule cannot decide, keep scanning
			t.logger.Debug("fingerprint match aborted",
				"pattern", r.entry.Pattern,
				"digest", digest,
				"error", err,
			)
			continue
		}
		if ok {
			return r.entry, true
		}
	}
	return nil, false
}
