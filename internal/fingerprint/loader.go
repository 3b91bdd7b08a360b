package fingerprint

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ErrCorpusParse is matched by every error returned from Load and LoadFile
var ErrCorpusParse = errors.New("malformed fingerprint corpus")

// CorpusParseError describes why a corpus could not be turned into a Table
type CorpusParseError struct {
	Path  string // empty when loading from a reader
	Index int    // fingerprint position, -1 for document-level problems
	Err   error
}

func (e *CorpusParseError) Error() string {
	var b strings.Builder
	b.WriteString("fingerprint corpus")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, ": fingerprint #%d", e.Index)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *CorpusParseError) Unwrap() error { return e.Err }

func (e *CorpusParseError) Is(target error) bool { return target == ErrCorpusParse }

// Recog-style XML document
type xmlCorpus struct {
	XMLName      xml.Name         `xml:"fingerprints"`
	Matches      string           `xml:"matches,attr"`
	Protocol     string           `xml:"protocol,attr"`
	DatabaseType string           `xml:"database_type,attr"`
	Fingerprints []xmlFingerprint `xml:"fingerprint"`
}

type xmlFingerprint struct {
	Pattern     string       `xml:"pattern,attr"`
	Flags       string       `xml:"flags,attr"`
	Description string       `xml:"description"`
	Examples    []xmlExample `xml:"example"`
	Params      []xmlParam   `xml:"param"`
}

type xmlExample struct {
	Value string `xml:",chardata"`
}

type xmlParam struct {
	Pos   string `xml:"pos,attr"`
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Option customises Load
type Option func(*Table)

// WithLogger routes match-time diagnostics to logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// LoadFile opens path and parses it with Load
func LoadFile(path string, opts ...Option) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &CorpusParseError{Path: path, Index: -1, Err: err}
	}
	defer f.Close()

	table, err := Load(f, opts...)
	if err != nil {
		var cpe *CorpusParseError
		if errors.As(err, &cpe) {
			cpe.Path = path
		}
		return nil, err
	}
	return table, nil
}

// Load parses a fingerprint corpus into a compiled Table
func Load(r io.Reader, opts ...Option) (*Table, error) {
	var doc xmlCorpus
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &CorpusParseError{Index: -1, Err: err}
	}
	if len(doc.Fingerprints) == 0 {
		return nil, &CorpusParseError{Index: -1, Err: errors.New("no fingerprint entries")}
	}

	table := newTable(nil)
	for _, opt := range opts {
		opt(table)
	}
	table.Matches = doc.Matches
	table.Protocol = doc.Protocol
	table.DatabaseType = doc.DatabaseType

	for i, fp := range doc.Fingerprints {
		entry, err := fp.entry()
		if err != nil {
			return nil, &CorpusParseError{Index: i, Err: err}
		}
		if err := table.add(entry); err != nil {
			return nil, &CorpusParseError{Index: i, Err: fmt.Errorf("compile pattern %q: %w", entry.Pattern, err)}
		}
	}

	return table, nil
}

func (fp xmlFingerprint) entry() (*Entry, error) {
	if fp.Pattern == "" {
		return nil, errors.New("missing pattern attribute")
	}

	e := &Entry{
		Pattern:     fp.Pattern,
		Description: strings.TrimSpace(fp.Description),
		Examples:    make([]string, 0, len(fp.Examples)),
		Params:      make([]Param, 0, len(fp.Params)),
		IgnoreCase:  strings.Contains(fp.Flags, "REG_ICASE"),
	}
	for _, ex := range fp.Examples {
		e.Examples = append(e.Examples, strings.TrimSpace(ex.Value))
	}
	for _, p := range fp.Params {
		pos := 0
		if p.Pos != "" {
			n, err := strconv.Atoi(p.Pos)
			if err != nil {
				return nil, fmt.Errorf("param %q: invalid pos %q", p.Name, p.Pos)
			}
			pos = n
		}
		e.Params = append(e.Params, Param{Position: pos, Name: p.Name, Value: p.Value})
	}
	return e, nil
}
