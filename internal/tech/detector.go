package tech

import (
	"net/http"
	"sort"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"
)

// Detector wraps wappalyzergo for technology detection on root pages
type Detector struct {
	wappalyze *wappalyzer.Wappalyze
}

// NewDetector creates a new technology detector
func NewDetector() (*Detector, error) {
	wappalyze, err := wappalyzer.New()
	if err != nil {
		return nil, err
	}
	return &Detector{wappalyze: wappalyze}, nil
}

// Detect identifies technologies from HTTP headers and body, sorted by name.
// A nil Detector detects nothing.
func (d *Detector) Detect(headers http.Header, body []byte) []string {
	if d == nil || d.wappalyze == nil || (len(headers) == 0 && len(body) == 0) {
		return nil
	}

	fingerprints := d.wappalyze.Fingerprint(headers, body)
	if len(fingerprints) == 0 {
		return nil
	}

	techs := make([]string, 0, len(fingerprints))
	for tech := range fingerprints {
		techs = append(techs, tech)
	}
	sort.Strings(techs)
	return techs
}
