package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"favprobe/internal/config"
	"favprobe/internal/fingerprint"
	"favprobe/internal/hash"
	"favprobe/internal/output"
	"favprobe/internal/probe"
	"favprobe/internal/target"
)

var roundcubeIcon = []byte("\x00\x00\x01\x00\x01\x00\x10\x10roundcube-elastic")

type noPTR struct{}

func (noPTR) LookupAddr(context.Context, netip.Addr) (string, error) {
	return "", probe.ErrNoName
}

// roundcubeServer serves a Roundcube-like login page on 127.0.0.1
func roundcubeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Server", "nginx")
		fmt.Fprint(w, `<!DOCTYPE html><html><head>
			<title>Roundcube Webmail :: Welcome to Roundcube Webmail</title>
			<link rel="shortcut icon" href="skins/elastic/images/favicon.ico">
		</head><body></body></html>`)
	})
	mux.HandleFunc("/skins/elastic/images/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/x-icon")
		w.Write(roundcubeIcon)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func newTestRunner(t *testing.T, srv *httptest.Server, mutate func(*config.Config)) *Runner {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())

	cfg := config.New()
	cfg.Timeout = 5
	cfg.HTTPPort = port
	cfg.HTTPSPort = closedPort(t)
	if mutate != nil {
		mutate(cfg)
	}

	prober, err := probe.NewProberWithResolver(cfg, noPTR{})
	if err != nil {
		t.Fatalf("NewProberWithResolver() error: %v", err)
	}
	t.Cleanup(func() { prober.Close() })

	r, err := New(cfg, prober)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return r
}

// corpus builds a table from pattern/description pairs
func corpus(t *testing.T, pairs ...string) *fingerprint.Table {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<fingerprints matches="http_header.favicon.md5" protocol="http" database_type="util.favicon">`)
	for i := 0; i+1 < len(pairs); i += 2 {
		fmt.Fprintf(&b, `<fingerprint pattern="%s"><description>%s</description></fingerprint>`, pairs[i], pairs[i+1])
	}
	b.WriteString(`</fingerprints>`)

	table, err := fingerprint.Load(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return table
}

func roundcubeCorpus(t *testing.T) *fingerprint.Table {
	return corpus(t,
		"^a8fe5b8ae2c445a33ac41b33ccc9a120$", "Example Appliance Admin",
		"^(?:924a68d347c80d0e502157e83812bb23|"+hash.MD5Hex(roundcubeIcon)+")$", "Roundcube Webmail",
	)
}

func TestRun_SingleTargetMatch(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)

	result, err := r.Run(context.Background(), []string{"127.0.0.1"}, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(result.Matches))
	}
	if result.Matches[0].Description != "Roundcube Webmail" {
		t.Errorf("Description = %q", result.Matches[0].Description)
	}

	report := result.Targets[0]
	if report.State != output.StateMatched {
		t.Errorf("State = %q, want matched", report.State)
	}
	if report.Hash == nil || report.Hash.MD5 != hash.MD5Hex(roundcubeIcon) {
		t.Errorf("Hash = %+v", report.Hash)
	}
	if report.Title != "Roundcube Webmail :: Welcome to Roundcube Webmail" {
		t.Errorf("Title = %q", report.Title)
	}
}

func TestRun_DuplicateTargets(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)

	result, err := r.Run(context.Background(), []string{"127.0.0.1", "127.0.0.1"}, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Matches) != 1 {
		t.Errorf("got %d matches, want 1", len(result.Matches))
	}
	if len(result.Targets) != 1 {
		t.Errorf("got %d targets, want 1", len(result.Targets))
	}
}

func TestRun_MixedSpecs(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)

	var progress []int
	r.OnProgress = func(done, total int, _ netip.Addr) {
		if total != 6 {
			t.Errorf("progress total = %d, want 6", total)
		}
		progress = append(progress, done)
	}

	specs := []string{"127.0.0.1", "127.0.0.20-127.0.0.23", "127.0.0.30"}
	result, err := r.Run(context.Background(), specs, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Targets) != 6 {
		t.Fatalf("got %d targets, want 6", len(result.Targets))
	}
	if len(progress) != 6 || progress[5] != 6 {
		t.Errorf("progress = %v", progress)
	}
	if len(result.Matches) != 1 {
		t.Errorf("got %d matches, want 1", len(result.Matches))
	}
	if len(result.Matches) > len(result.Targets) {
		t.Error("more matches than resolved targets")
	}

	for _, report := range result.Targets[1:] {
		if report.State != output.StateDigestless {
			t.Errorf("%s: State = %q, want digestless", report.Input, report.State)
		}
		if report.Reason != ReasonDiscovery {
			t.Errorf("%s: Reason = %q, want %q", report.Input, report.Reason, ReasonDiscovery)
		}
	}
	if result.Targets[0].Input != "127.0.0.1" || result.Targets[5].Input != "127.0.0.30" {
		t.Errorf("targets not in address order: %s .. %s", result.Targets[0].Input, result.Targets[5].Input)
	}
}

func TestRun_MalformedSpecDoesNotAbort(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)

	result, err := r.Run(context.Background(), []string{"6.A.34.2", "127.0.0.1", "256.1.1.1-256.1.1.2"}, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Description != "Roundcube Webmail" {
		t.Errorf("Matches = %+v", result.Matches)
	}
	if len(result.Rejected) != 2 {
		t.Fatalf("got %d rejections, want 2", len(result.Rejected))
	}
	if result.Rejected[0].Reason != target.ReasonInvalidAddress {
		t.Errorf("Reason = %q, want invalid-address", result.Rejected[0].Reason)
	}
	if result.Rejected[1].Reason != target.ReasonInvalidRangeEndpoint {
		t.Errorf("Reason = %q, want invalid-range-endpoint", result.Rejected[1].Reason)
	}
}

func TestRun_Unmatched(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)

	result, err := r.Run(context.Background(), []string{"127.0.0.1"}, corpus(t, "^0{32}$", "Zeros"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Errorf("got %d matches, want 0", len(result.Matches))
	}
	if result.Matches == nil {
		t.Error("Matches should be empty, not nil")
	}
	if result.Targets[0].State != output.StateUnmatched || result.Targets[0].Hash == nil {
		t.Errorf("report = %+v, want unmatched with digest", result.Targets[0])
	}
}

func TestRun_FirstPatternWins(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)
	digest := hash.MD5Hex(roundcubeIcon)
	table := corpus(t,
		"^"+digest[:8], "First",
		digest[8:16], "Second",
	)

	for i := 0; i < 3; i++ {
		result, err := r.Run(context.Background(), []string{"127.0.0.1"}, table)
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if len(result.Matches) != 1 || result.Matches[0].Description != "First" {
			t.Fatalf("run %d: Matches = %+v, want First", i, result.Matches)
		}
	}
}

func TestRun_NilTable(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)
	if _, err := r.Run(context.Background(), []string{"127.0.0.1"}, nil); !errors.Is(err, ErrNoTable) {
		t.Errorf("error = %v, want ErrNoTable", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	r := newTestRunner(t, roundcubeServer(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx, []string{"127.0.0.1-127.0.0.3"}, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Matches) != 0 {
		t.Errorf("got %d matches after cancellation", len(result.Matches))
	}
	for _, report := range result.Targets {
		if report.State != output.StateDigestless || report.Reason != ReasonCancelled {
			t.Errorf("%s: state/reason = %s/%s", report.Input, report.State, report.Reason)
		}
	}
}

func TestRun_CancelledInFlight(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	r := newTestRunner(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	defer cancel()

	result, err := r.Run(ctx, []string{"127.0.0.1"}, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.Targets) != 1 {
		t.Fatalf("got %d reports, want 1", len(result.Targets))
	}
	report := result.Targets[0]
	if report.State != output.StateDigestless {
		t.Errorf("State = %s, want %s", report.State, output.StateDigestless)
	}
	if report.Reason != ReasonCancelled {
		t.Errorf("Reason = %q, want %q (error: %s)", report.Reason, ReasonCancelled, report.Error)
	}
}

func TestFailureReason(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	discoveryErr := &probe.DiscoveryError{
		Addr:   netip.MustParseAddr("10.0.0.1"),
		Plain:  fmt.Errorf("request failed: %w", context.Canceled),
		Secure: context.Canceled,
	}
	timeoutErr := &probe.DiscoveryError{
		Addr:   netip.MustParseAddr("10.0.0.1"),
		Plain:  fmt.Errorf("request failed: %w", context.DeadlineExceeded),
		Secure: errors.New("connection refused"),
	}

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want string
	}{
		{"discovery interrupted", cancelled, discoveryErr, ReasonCancelled},
		{"queued target", cancelled, context.Canceled, ReasonCancelled},
		{"fetch interrupted", cancelled, &probe.FetchError{URL: "http://10.0.0.1/favicon.ico", Err: context.Canceled}, ReasonCancelled},
		{"client timeout", context.Background(), timeoutErr, ReasonDiscovery},
		{"discovery failed", context.Background(), discoveryErr, ReasonDiscovery},
		{"fetch failed", context.Background(), &probe.FetchError{URL: "http://10.0.0.1/favicon.ico", Err: errors.New("404")}, ReasonFetch},
		{"failure before cancel", cancelled, &probe.FetchError{URL: "http://10.0.0.1/favicon.ico", Err: errors.New("404")}, ReasonFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureReason(tt.ctx, tt.err); got != tt.want {
				t.Errorf("failureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_StoreIconsAndTechDetect(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t, roundcubeServer(t), func(cfg *config.Config) {
		cfg.StoreIcons = true
		cfg.StoreIconsDir = dir
		cfg.TechDetect = true
	})

	result, err := r.Run(context.Background(), []string{"127.0.0.1"}, roundcubeCorpus(t))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	report := result.Targets[0]
	if report.StoredIconPath == "" {
		t.Fatal("StoredIconPath should be set")
	}
	data, err := os.ReadFile(report.StoredIconPath)
	if err != nil {
		t.Fatalf("read stored icon: %v", err)
	}
	if string(data) != string(roundcubeIcon) {
		t.Error("stored icon differs from served bytes")
	}
	if !strings.HasSuffix(report.StoredIconPath, hash.MD5Hex(roundcubeIcon)+".ico") {
		t.Errorf("StoredIconPath = %s", report.StoredIconPath)
	}

	found := false
	for _, tech := range report.Technologies {
		if strings.HasPrefix(tech, "Nginx") {
			found = true
		}
	}
	if !found {
		t.Errorf("Technologies = %v, want Nginx", report.Technologies)
	}
}
