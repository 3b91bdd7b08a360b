package target

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/projectdiscovery/mapcidr"
)

// DefaultMaxRangeSize caps how many addresses a single range or CIDR may expand to
const DefaultMaxRangeSize = 65536

// Reason classifies why a target spec was rejected
type Reason string

const (
	ReasonInvalidAddress       Reason = "invalid-address"
	ReasonInvalidRangeEndpoint Reason = "invalid-range-endpoint"
	ReasonInvalidRangeOrder    Reason = "invalid-range-order"
	ReasonInvalidCIDR          Reason = "invalid-cidr"
	ReasonRangeTooLarge        Reason = "range-too-large"
)

// ErrInvalidSpec is matched by every Rejection
var ErrInvalidSpec = errors.New("invalid target spec")

// Rejection records a spec that never reaches the network stages
type Rejection struct {
	Spec   string `json:"spec"`
	Reason Reason `json:"reason"`
	Err    error  `json:"-"`
}

func (r Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Spec, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Spec, r.Reason)
}

func (r Rejection) Unwrap() error { return r.Err }

func (r Rejection) Is(target error) bool { return target == ErrInvalidSpec }

// Options tunes expansion
type Options struct {
	MaxRangeSize int // <= 0 means DefaultMaxRangeSize
}

// Expansion is the deduplicated address set plus everything that was dropped
type Expansion struct {
	Targets  []netip.Addr
	Rejected []Rejection
}

// Expand turns raw specs (single address, "start-end" range, or CIDR) into a
// sorted, duplicate-free address list. A bad spec is rejected on its own and
// never aborts the batch.
func Expand(specs []string, opts Options) Expansion {
	maxSize := opts.MaxRangeSize
	if maxSize <= 0 {
		maxSize = DefaultMaxRangeSize
	}

	var exp Expansion
	seenSpec := make(map[string]bool, len(specs))
	seenAddr := make(map[netip.Addr]bool)

	add := func(addrs ...netip.Addr) {
		for _, a := range addrs {
			if !seenAddr[a] {
				seenAddr[a] = true
				exp.Targets = append(exp.Targets, a)
			}
		}
	}

	for _, raw := range specs {
		spec := strings.TrimSpace(raw)
		if spec == "" || strings.HasPrefix(spec, "#") || seenSpec[spec] {
			continue
		}
		seenSpec[spec] = true

		var (
			addrs []netip.Addr
			rej   *Rejection
		)
		switch {
		case strings.Contains(spec, "-"):
			addrs, rej = expandRange(spec, maxSize)
		case strings.Contains(spec, "/"):
			addrs, rej = expandCIDR(spec, maxSize)
		default:
			addr, err := ParseAddr(spec)
			if err != nil {
				rej = &Rejection{Spec: spec, Reason: ReasonInvalidAddress, Err: err}
			} else {
				addrs = []netip.Addr{addr}
			}
		}

		if rej != nil {
			exp.Rejected = append(exp.Rejected, *rej)
			continue
		}
		add(addrs...)
	}

	slices.SortFunc(exp.Targets, func(a, b netip.Addr) int { return a.Compare(b) })
	return exp
}

// ParseAddr parses a single address literal. IPv4-mapped IPv6 addresses are
// unmapped so both spellings collapse to one target.
func ParseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

// expandRange handles "start-end", inclusive on both ends
func expandRange(spec string, maxSize int) ([]netip.Addr, *Rejection) {
	startStr, endStr, _ := strings.Cut(spec, "-")

	start, err := ParseAddr(startStr)
	if err != nil {
		return nil, &Rejection{Spec: spec, Reason: ReasonInvalidRangeEndpoint, Err: err}
	}
	end, err := ParseAddr(endStr)
	if err != nil {
		return nil, &Rejection{Spec: spec, Reason: ReasonInvalidRangeEndpoint, Err: err}
	}

	if start.Is4() != end.Is4() {
		return nil, &Rejection{Spec: spec, Reason: ReasonInvalidRangeOrder, Err: errors.New("mixed address families")}
	}
	if start.Compare(end) > 0 {
		return nil, &Rejection{Spec: spec, Reason: ReasonInvalidRangeOrder, Err: errors.New("start address is above end address")}
	}

	var addrs []netip.Addr
	for a := start; a.IsValid() && a.Compare(end) <= 0; a = a.Next() {
		if len(addrs) >= maxSize {
			return nil, &Rejection{Spec: spec, Reason: ReasonRangeTooLarge, Err: fmt.Errorf("more than %d addresses", maxSize)}
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// expandCIDR enumerates the addresses of a prefix
func expandCIDR(spec string, maxSize int) ([]netip.Addr, *Rejection) {
	prefix, err := netip.ParsePrefix(spec)
	if err != nil {
		return nil, &Rejection{Spec: spec, Reason: ReasonInvalidCIDR, Err: err}
	}
	// mapcidr never terminates on IPv4-mapped IPv6 prefixes, so they are
	// expanded as the IPv4 prefix they map
	if prefix.Addr().Is4In6() {
		if prefix.Bits() < 96 {
			return nil, &Rejection{Spec: spec, Reason: ReasonInvalidCIDR, Err: errors.New("IPv4-mapped prefix shorter than /96")}
		}
		prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()-96)
	}
	prefix = prefix.Masked()

	hostBits := prefix.Addr().BitLen() - prefix.Bits()
	if hostBits >= 63 || 1<<hostBits > maxSize {
		return nil, &Rejection{Spec: spec, Reason: ReasonRangeTooLarge, Err: fmt.Errorf("more than %d addresses", maxSize)}
	}

	ips, err := mapcidr.IPAddressesAsStream(prefix.String())
	if err != nil {
		return nil, &Rejection{Spec: spec, Reason: ReasonInvalidCIDR, Err: err}
	}

	addrs := make([]netip.Addr, 0, 1<<hostBits)
	for ip := range ips {
		addr, err := ParseAddr(ip)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
