package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"favprobe/internal/config"
	"favprobe/internal/fingerprint"
	"favprobe/internal/output"
	"favprobe/internal/probe"
	"favprobe/internal/storage"
	"favprobe/internal/target"
	"favprobe/internal/tech"
)

// ErrNoTable is returned by Run when no fingerprint table was supplied
var ErrNoTable = errors.New("no fingerprint table loaded")

// Failure reasons reported for digestless targets
const (
	ReasonDiscovery = "discovery-failed"
	ReasonFetch     = "fetch-failed"
	ReasonCancelled = "cancelled"
)

// Result is the aggregate of one run. Matches holds one record per matched
// target; Targets holds one report per resolved target in address order.
type Result struct {
	Matches  []output.MatchRecord
	Targets  []output.TargetReport
	Rejected []target.Rejection
}

// Runner drives expansion, probing and matching for a batch of target specs
type Runner struct {
	prober   *probe.Prober
	detector *tech.Detector
	store    *storage.IconStore
	config   *config.Config
	logger   *slog.Logger

	// OnProgress, when set, is called once per probed target
	OnProgress func(done, total int, addr netip.Addr)
}

// New creates a Runner around prober, enabling technology detection and
// favicon storage when the config asks for them
func New(cfg *config.Config, prober *probe.Prober) (*Runner, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Runner{
		prober: prober,
		config: cfg,
		logger: logger,
	}

	if cfg.TechDetect {
		detector, err := tech.NewDetector()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize technology detection: %w", err)
		}
		r.detector = detector
	}

	if cfg.StoreIcons {
		store, err := storage.NewIconStore(cfg.StoreIconsDir)
		if err != nil {
			return nil, err
		}
		r.store = store
		logger.Info("favicon storage enabled", "directory", store.Root())
	}
	return r, nil
}

// Run expands specs, probes every resolved address with at most
// Concurrency in flight, then matches the collected digests against table.
// Per-target failures never fail the run; only a nil table does.
func (r *Runner) Run(ctx context.Context, specs []string, table *fingerprint.Table) (*Result, error) {
	if table == nil {
		return nil, ErrNoTable
	}

	exp := target.Expand(specs, target.Options{MaxRangeSize: r.config.MaxRangeSize})
	for _, rej := range exp.Rejected {
		r.logger.Warn("skipping invalid target", "spec", rej.Spec, "reason", rej.Reason, "error", rej.Err)
	}
	r.logger.Info("expanded targets", "specs", len(specs), "resolved", len(exp.Targets), "rejected", len(exp.Rejected))

	timestamp := time.Now().UTC().Format(time.RFC3339)
	reports := make(map[netip.Addr]*output.TargetReport, len(exp.Targets))
	var digested []*output.TargetReport

	done := 0
	for res := range r.prober.ProcessTargets(ctx, exp.Targets, r.config.Concurrency) {
		done++
		report := r.report(ctx, res, timestamp)
		reports[res.Addr] = report
		if report.Hash != nil {
			digested = append(digested, report)
		}
		if r.OnProgress != nil {
			r.OnProgress(done, len(exp.Targets), res.Addr)
		}
	}

	// matching is CPU only; the table is shared read-only
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, report := range digested {
		report := report
		g.Go(func() error {
			if entry, ok := table.Match(report.Hash.MD5); ok {
				rec := output.NewMatchRecord(entry)
				report.Match = &rec
				report.State = output.StateMatched
			} else {
				report.State = output.StateUnmatched
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		Matches:  make([]output.MatchRecord, 0),
		Targets:  make([]output.TargetReport, 0, len(exp.Targets)),
		Rejected: exp.Rejected,
	}
	for _, addr := range exp.Targets {
		report := reports[addr]
		result.Targets = append(result.Targets, *report)
		if report.Match != nil {
			result.Matches = append(result.Matches, *report.Match)
		}
	}

	r.logger.Info("matching completed",
		"resolved", len(exp.Targets),
		"digested", len(digested),
		"matched", len(result.Matches),
	)
	return result, nil
}

// report turns a probe result into a TargetReport, storing the favicon if enabled
func (r *Runner) report(ctx context.Context, res probe.Result, timestamp string) *output.TargetReport {
	report := &output.TargetReport{
		Timestamp: timestamp,
		Input:     res.Addr.String(),
		State:     output.StateDigestless,
	}

	if disc := res.Discovery; disc != nil {
		report.Secure = disc.Secure
		report.Host = disc.Host
		report.HostIP = disc.RemoteAddr
		report.PageURL = disc.PageURL
		report.Title = disc.Page.Title
		report.Technologies = r.detector.Detect(disc.Header, disc.Body)
	}

	out := res.Outcome
	report.FaviconURL = out.FaviconURL
	if !out.OK() {
		report.Reason = failureReason(ctx, out.Err)
		if out.Err != nil {
			report.Error = out.Err.Error()
		}
		r.logger.Debug("no digest", "addr", res.Addr, "reason", report.Reason, "error", out.Err)
		return report
	}

	digests := out.Digests
	report.Hash = &digests

	if r.store != nil {
		path, err := r.store.Store(res.Addr.String(), digests.MD5, out.FaviconURL, out.Data)
		if err != nil {
			r.logger.Warn("failed to store favicon", "addr", res.Addr, "error", err)
		} else {
			report.StoredIconPath = path
		}
	}
	return report
}

// failureReason classifies a missing digest. An error caused by the run's
// own context ending is a cancellation whichever stage it interrupted.
func failureReason(ctx context.Context, err error) string {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ReasonCancelled
	}
	switch {
	case errors.Is(err, probe.ErrDiscovery):
		return ReasonDiscovery
	case errors.Is(err, probe.ErrFetch):
		return ReasonFetch
	default:
		return "error"
	}
}
