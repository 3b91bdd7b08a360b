package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/term"

	"favprobe/internal/config"
	"favprobe/internal/fingerprint"
	"favprobe/internal/output"
	"favprobe/internal/probe"
	"favprobe/internal/runner"
	"favprobe/internal/server"
	"favprobe/pkg/version"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer cfg.Close() // Clean up debug log file

	if cfg.Version {
		fmt.Println(version.GetVersion())
		return
	}

	// If nothing to scan and nothing piped to stdin, show help
	if !cfg.Serve && cfg.Targets == "" && cfg.InputFile == "" && !config.HasPipedData() {
		cfg.Usage()
		return
	}

	if err := run(cfg); err != nil {
		cfg.Logger.Error("fatal", "error", err)
		cfg.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// Set up context with cancellation support for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cfg.Logger.Info("shutting down gracefully...")
		cancel()
	}()

	// The corpus is loaded once and shared read-only by every run
	table, err := fingerprint.LoadFile(cfg.CorpusFile, fingerprint.WithLogger(cfg.Logger))
	if err != nil {
		return err
	}
	cfg.Logger.Info("loaded fingerprints", "file", cfg.CorpusFile, "count", table.Len())

	prober, err := probe.NewProber(cfg)
	if err != nil {
		return err
	}
	defer prober.Close()

	r, err := runner.New(cfg, prober)
	if err != nil {
		return err
	}

	if cfg.Serve {
		if !cfg.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		return server.New(r, table, cfg.Logger).ListenAndServe(ctx, cfg.Listen)
	}

	specs, err := collectSpecs(cfg)
	if err != nil {
		return err
	}
	cfg.Logger.Info("loaded targets", "count", len(specs))

	outputWriter := io.Writer(os.Stdout)
	if cfg.OutputFile != "" {
		file, err := os.Create(cfg.OutputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		outputWriter = file
	}

	bar := newStatusBar(!cfg.Silent && term.IsTerminal(int(os.Stderr.Fd())))
	r.OnProgress = bar.update
	result, err := r.Run(ctx, specs, table)
	bar.close()
	if err != nil {
		return err
	}

	return writeResult(output.NewWriter(outputWriter), result, cfg.Report)
}

// collectSpecs gathers targets from -t, then the input file or piped stdin
func collectSpecs(cfg *config.Config) ([]string, error) {
	var specs []string
	if cfg.Targets != "" {
		specs = append(specs, strings.Split(cfg.Targets, ",")...)
	}

	var inputReader io.Reader
	switch {
	case cfg.InputFile != "":
		file, err := os.Open(cfg.InputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		inputReader = file
	case cfg.Targets == "" && config.HasPipedData():
		inputReader = os.Stdin
	}

	if inputReader != nil {
		lines, err := readSpecs(inputReader)
		if err != nil {
			return nil, err
		}
		specs = append(specs, lines...)
	}
	return specs, nil
}

// readSpecs reads target specs from the input reader, skipping comments and empty lines
func readSpecs(reader io.Reader) ([]string, error) {
	var specs []string
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			specs = append(specs, line)
		}
	}
	return specs, scanner.Err()
}

// writeResult emits match records, or one report per target in report mode
func writeResult(w *output.Writer, result *runner.Result, report bool) error {
	if !report {
		for _, rec := range result.Matches {
			if err := w.Write(rec); err != nil {
				return err
			}
		}
		return nil
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)
	for _, rej := range result.Rejected {
		if err := w.Write(output.RejectedReport(rej, timestamp)); err != nil {
			return err
		}
	}
	for _, t := range result.Targets {
		if err := w.Write(t); err != nil {
			return err
		}
	}
	return nil
}

// statusBar draws a persistent progress line at the bottom of the terminal
type statusBar struct {
	height int
}

func newStatusBar(enabled bool) *statusBar {
	if !enabled {
		return &statusBar{}
	}
	_, height, _ := term.GetSize(int(os.Stderr.Fd()))
	if height > 0 {
		// Set scroll region to exclude the bottom line
		fmt.Fprintf(os.Stderr, "\033[1;%dr", height-1)
		fmt.Fprintf(os.Stderr, "\033[1;1H")
		fmt.Fprintf(os.Stderr, "\033[s\033[%d;1H\033[K Starting...\033[u", height)
	}
	return &statusBar{height: height}
}

func (b *statusBar) update(done, total int, addr netip.Addr) {
	if b.height <= 0 {
		return
	}
	// Save cursor, move to bottom, clear line, draw status, restore cursor
	fmt.Fprintf(os.Stderr, "\033[s\033[%d;1H\033[K[%d/%d] %s\033[u", b.height, done, total, addr)
}

func (b *statusBar) close() {
	if b.height <= 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "\033[r")
	fmt.Fprintf(os.Stderr, "\033[%d;1H\033[K", b.height)
	fmt.Fprintf(os.Stderr, "\033[%d;1H", b.height-1)
}
