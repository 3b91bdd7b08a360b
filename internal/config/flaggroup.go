package config

import (
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
)

// FlagType represents the type of a flag value
type FlagType int

const (
	BoolType FlagType = iota
	StringType
	IntType
)

// FlagDef holds metadata for a single flag (short + long names, type, default, description)
type FlagDef struct {
	Short       string
	Long        string
	Type        FlagType
	Default     interface{}
	Description string
}

// FlagGroup is a named category containing related flags
type FlagGroup struct {
	Name  string
	Flags []FlagDef
}

// HelpFormatter holds the tool info and ordered flag groups for custom help rendering
type HelpFormatter struct {
	ToolName    string
	Description string
	Groups      []*FlagGroup
}

// addBoolFlag registers a bool flag on fs under both short and long names and appends it to the group
func addBoolFlag(fs *flag.FlagSet, group *FlagGroup, p *bool, short, long string, value bool, usage string) {
	if short != "" {
		fs.BoolVar(p, short, value, usage)
	}
	if long != "" {
		fs.BoolVar(p, long, value, usage)
	}
	group.Flags = append(group.Flags, FlagDef{
		Short:       short,
		Long:        long,
		Type:        BoolType,
		Default:     value,
		Description: usage,
	})
}

// addStringFlag registers a string flag on fs under both short and long names and appends it to the group
func addStringFlag(fs *flag.FlagSet, group *FlagGroup, p *string, short, long string, value string, usage string) {
	if short != "" {
		fs.StringVar(p, short, value, usage)
	}
	if long != "" {
		fs.StringVar(p, long, value, usage)
	}
	group.Flags = append(group.Flags, FlagDef{
		Short:       short,
		Long:        long,
		Type:        StringType,
		Default:     value,
		Description: usage,
	})
}

// addIntFlag registers an int flag on fs under both short and long names and appends it to the group
func addIntFlag(fs *flag.FlagSet, group *FlagGroup, p *int, short, long string, value int, usage string) {
	if short != "" {
		fs.IntVar(p, short, value, usage)
	}
	if long != "" {
		fs.IntVar(p, long, value, usage)
	}
	group.Flags = append(group.Flags, FlagDef{
		Short:       short,
		Long:        long,
		Type:        IntType,
		Default:     value,
		Description: usage,
	})
}

// RegisterFlags creates all flag groups, registers every flag on fs using the
// current values of cfg as defaults, and returns a populated HelpFormatter.
func RegisterFlags(fs *flag.FlagSet, cfg *Config) *HelpFormatter {
	formatter := &HelpFormatter{
		ToolName:    "favprobe",
		Description: "favicon fingerprint matcher",
	}

	// INPUT
	input := &FlagGroup{Name: "INPUT"}
	addStringFlag(fs, input, &cfg.Targets, "t", "targets", cfg.Targets, "Targets: addresses, start-end ranges or CIDRs (comma-separated)")
	addStringFlag(fs, input, &cfg.InputFile, "i", "input", cfg.InputFile, "Input file, one target per line (default: stdin)")
	addStringFlag(fs, input, &cfg.CorpusFile, "f", "fingerprints", cfg.CorpusFile, "Fingerprint database (Recog favicons.xml)")
	addStringFlag(fs, input, &cfg.ConfigFile, "", "config", cfg.ConfigFile, "YAML config file applied before flags")
	formatter.Groups = append(formatter.Groups, input)

	// OUTPUT
	output := &FlagGroup{Name: "OUTPUT"}
	addStringFlag(fs, output, &cfg.OutputFile, "o", "output", cfg.OutputFile, "Output file (default: stdout)")
	addBoolFlag(fs, output, &cfg.Report, "r", "report", cfg.Report, "Emit one report per target instead of matches only")
	addBoolFlag(fs, output, &cfg.StoreIcons, "si", "store-icons", cfg.StoreIcons, "Store fetched favicons to output directory")
	addStringFlag(fs, output, &cfg.StoreIconsDir, "sid", "store-icons-dir", cfg.StoreIconsDir, "Directory to store favicons")
	addBoolFlag(fs, output, &cfg.TechDetect, "td", "tech-detect", cfg.TechDetect, "Enable technology detection using wappalyzer")
	formatter.Groups = append(formatter.Groups, output)

	// SERVICE
	service := &FlagGroup{Name: "SERVICE"}
	addBoolFlag(fs, service, &cfg.Serve, "s", "serve", cfg.Serve, "Run the HTTP matching service instead of a one-shot scan")
	addStringFlag(fs, service, &cfg.Listen, "l", "listen", cfg.Listen, "Service listen address")
	formatter.Groups = append(formatter.Groups, service)

	// CONFIGURATION
	configuration := &FlagGroup{Name: "CONFIGURATION"}
	addIntFlag(fs, configuration, &cfg.HTTPPort, "", "http-port", cfg.HTTPPort, "Port for the plain HTTP tier")
	addIntFlag(fs, configuration, &cfg.HTTPSPort, "", "https-port", cfg.HTTPSPort, "Port for the HTTPS fallback tier")
	addBoolFlag(fs, configuration, &cfg.FollowRedirects, "fr", "follow-redirects", cfg.FollowRedirects, "Follow redirects")
	addIntFlag(fs, configuration, &cfg.MaxRedirects, "maxr", "max-redirects", cfg.MaxRedirects, "Max redirects")
	addBoolFlag(fs, configuration, &cfg.InsecureSkipVerify, "k", "insecure", cfg.InsecureSkipVerify, "Skip TLS certificate verification")
	addStringFlag(fs, configuration, &cfg.UserAgent, "ua", "user-agent", cfg.UserAgent, "Custom User-Agent header")
	addStringFlag(fs, configuration, &cfg.Proxy, "x", "proxy", cfg.Proxy, "Proxy URL (http://, socks5://)")
	addStringFlag(fs, configuration, &cfg.Resolver, "", "resolver", cfg.Resolver, "DNS server for reverse lookups (host[:port], default: system)")
	addIntFlag(fs, configuration, &cfg.MaxRangeSize, "", "max-range", cfg.MaxRangeSize, "Maximum addresses a single range or CIDR may expand to")
	formatter.Groups = append(formatter.Groups, configuration)

	// RATE-LIMIT
	rateLimit := &FlagGroup{Name: "RATE-LIMIT"}
	addIntFlag(fs, rateLimit, &cfg.Timeout, "to", "timeout", cfg.Timeout, "Request timeout in seconds")
	addIntFlag(fs, rateLimit, &cfg.Concurrency, "c", "concurrency", cfg.Concurrency, "Concurrent hosts")
	addIntFlag(fs, rateLimit, &cfg.TLSHandshakeTimeout, "tls-timeout", "tls-handshake-timeout", cfg.TLSHandshakeTimeout, "TLS handshake timeout in seconds")
	addIntFlag(fs, rateLimit, &cfg.RateLimit, "rl", "rate-limit", cfg.RateLimit, "Maximum requests per second (0 = unlimited)")
	addIntFlag(fs, rateLimit, &cfg.RateLimitTimeout, "", "rate-limit-timeout", cfg.RateLimitTimeout, "Rate limit wait timeout in seconds")
	formatter.Groups = append(formatter.Groups, rateLimit)

	// DEBUG
	debug := &FlagGroup{Name: "DEBUG"}
	addBoolFlag(fs, debug, &cfg.Debug, "d", "debug", cfg.Debug, "Debug mode (log every request to stderr)")
	addBoolFlag(fs, debug, &cfg.Silent, "", "silent", cfg.Silent, "Silent mode (errors only on stderr)")
	addStringFlag(fs, debug, &cfg.DebugLogFile, "", "debug-log", cfg.DebugLogFile, "Write detailed debug logs to file")
	formatter.Groups = append(formatter.Groups, debug)

	// MISCELLANEOUS
	misc := &FlagGroup{Name: "MISCELLANEOUS"}
	addBoolFlag(fs, misc, &cfg.Version, "v", "version", false, "Show version information")
	formatter.Groups = append(formatter.Groups, misc)

	return formatter
}

// PrintUsage writes the grouped help output to w
func (h *HelpFormatter) PrintUsage(w io.Writer) {
	fmt.Fprintf(w, "%s - %s\n\n", h.ToolName, h.Description)
	fmt.Fprintf(w, "Usage:\n  %s [flags]\n\nFlags:\n", h.ToolName)

	for _, group := range h.Groups {
		fmt.Fprintf(w, "\n%s:\n", group.Name)

		tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
		for _, f := range group.Flags {
			name := formatFlagName(f)
			typeSuffix := formatFlagType(f)
			defaultStr := formatFlagDefault(f)

			desc := f.Description
			if defaultStr != "" {
				desc += " " + defaultStr
			}

			fmt.Fprintf(tw, "   %s%s\t%s\n", name, typeSuffix, desc)
		}
		tw.Flush()
	}
}

// formatFlagName builds the "-short, -long" or just "-long" name string
func formatFlagName(f FlagDef) string {
	if f.Short != "" && f.Long != "" {
		return fmt.Sprintf("-%s, -%s", f.Short, f.Long)
	}
	if f.Short != "" {
		return fmt.Sprintf("-%s", f.Short)
	}
	return fmt.Sprintf("-%s", f.Long)
}

// formatFlagType returns the type suffix for non-bool flags
func formatFlagType(f FlagDef) string {
	switch f.Type {
	case StringType:
		return " string"
	case IntType:
		return " int"
	default:
		return ""
	}
}

// formatFlagDefault returns a parenthesized default value string for non-zero defaults
func formatFlagDefault(f FlagDef) string {
	switch f.Type {
	case BoolType:
		if v, ok := f.Default.(bool); ok && v {
			return "(default true)"
		}
	case IntType:
		if v, ok := f.Default.(int); ok && v != 0 {
			return fmt.Sprintf("(default %d)", v)
		}
	case StringType:
		if v, ok := f.Default.(string); ok && v != "" {
			return fmt.Sprintf("(default %q)", v)
		}
	}
	return ""
}
