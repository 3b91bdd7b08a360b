package output

import (
	"encoding/json"
	"io"
	"sync"

	"favprobe/internal/fingerprint"
	"favprobe/internal/hash"
	"favprobe/internal/target"
)

// State is the terminal state of one target
type State string

const (
	StateRejected   State = "rejected"
	StateDigestless State = "digestless"
	StateUnmatched  State = "unmatched"
	StateMatched    State = "matched"
)

// MatchRecord is the metadata of the fingerprint that matched a favicon
type MatchRecord struct {
	Pattern     string              `json:"pattern"`
	Description string              `json:"description"`
	Examples    []string            `json:"examples"`
	Parameters  []fingerprint.Param `json:"parameters"`
}

// NewMatchRecord copies the metadata of e; empty lists encode as []
func NewMatchRecord(e *fingerprint.Entry) MatchRecord {
	rec := MatchRecord{
		Pattern:     e.Pattern,
		Description: e.Description,
		Examples:    append([]string{}, e.Examples...),
		Parameters:  append([]fingerprint.Param{}, e.Params...),
	}
	return rec
}

// TargetReport represents the JSON output for each target in report mode
type TargetReport struct {
	Timestamp      string        `json:"timestamp"`
	Input          string        `json:"input"`
	State          State         `json:"state"`
	Reason         string        `json:"reason,omitempty"`
	Error          string        `json:"error,omitempty"`
	Secure         bool          `json:"secure,omitempty"`
	Host           string        `json:"host,omitempty"`
	HostIP         string        `json:"host_ip,omitempty"`
	PageURL        string        `json:"page_url,omitempty"`
	Title          string        `json:"title,omitempty"`
	FaviconURL     string        `json:"favicon_url,omitempty"`
	Hash           *hash.Digests `json:"hash,omitempty"`
	Technologies   []string      `json:"tech,omitempty"`
	StoredIconPath string        `json:"stored_icon_path,omitempty"`
	Match          *MatchRecord  `json:"match,omitempty"`
}

// RejectedReport describes a spec that never reached the network
func RejectedReport(r target.Rejection, timestamp string) TargetReport {
	report := TargetReport{
		Timestamp: timestamp,
		Input:     r.Spec,
		State:     StateRejected,
		Reason:    string(r.Reason),
	}
	if r.Err != nil {
		report.Error = r.Err.Error()
	}
	return report
}

// Writer emits one JSON document per line and is safe for concurrent use
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter creates a JSON-lines writer on w
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Write encodes v followed by a newline
func (w *Writer) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}
