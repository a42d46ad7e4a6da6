// Package oracle implements C2: a read-only RPKI validation oracle
// built from a VRP (Validated ROA Payload) table at startup (spec.md
// §4.2). Immutable after construction, so it needs no lock — every
// method only reads state set once in New.
package oracle

import (
	"net"
	"strings"
)

// Result is the three-valued outcome of a (prefix, origin) lookup.
type Result int

const (
	Valid Result = iota
	Invalid
	NotFound
)

func (r Result) String() string {
	switch r {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "not_found"
	}
}

// VRPEntry is one row of the VRP table (spec.md §6): a prefix may be
// announced by OriginASN at up to MaxLength bits.
type VRPEntry struct {
	Prefix    string
	MaxLength int
	OriginASN uint32
}

type roa struct {
	network   *net.IPNet
	prefixLen int
	maxLength int
	originASN uint32
}

// Oracle answers (prefix, origin) -> {Valid, Invalid, NotFound}
// against the VRP table it was built from.
type Oracle struct {
	// exact[prefix] holds every ROA whose announced prefix is exactly
	// that CIDR string, for O(1) exact-match lookups.
	exact map[string][]roa
	// all is scanned for covering-prefix lookups (subprefix-hijack
	// detection, spec.md §4.5); the VRP table is small enough in
	// practice (thousands of entries) that a linear scan per lookup
	// is acceptable and keeps this package free of an external
	// longest-prefix-match trie dependency.
	all []roa
}

// New builds an immutable Oracle from the VRP table.
func New(entries []VRPEntry) (*Oracle, error) {
	o := &Oracle{exact: make(map[string][]roa)}
	for _, e := range entries {
		_, network, err := net.ParseCIDR(e.Prefix)
		if err != nil {
			return nil, err
		}
		ones, _ := network.Mask.Size()
		r := roa{
			network:   network,
			prefixLen: ones,
			maxLength: e.MaxLength,
			originASN: e.OriginASN,
		}
		key := normalizePrefix(e.Prefix)
		o.exact[key] = append(o.exact[key], r)
		o.all = append(o.all, r)
	}
	return o, nil
}

func normalizePrefix(prefix string) string {
	return strings.TrimSpace(prefix)
}

// Validate implements spec.md §4.2/§4.5: Valid iff an entry covers
// prefix with a matching origin and permissible max-length; Invalid
// if no such entry exists but the exact prefix has an entry;
// NotFound otherwise (the caller then checks for a covering shorter
// prefix via Covering, to decide between NotFound-benign and
// subprefix-hijack).
func (o *Oracle) Validate(prefix string, origin uint32) Result {
	ip, network, err := net.ParseCIDR(prefix)
	if err != nil {
		return NotFound
	}
	ones, _ := network.Mask.Size()
	for _, e := range o.all {
		if e.originASN == origin && ones >= e.prefixLen && ones <= e.maxLength && e.network.Contains(ip) {
			return Valid
		}
	}
	if _, ok := o.exact[normalizePrefix(prefix)]; ok {
		return Invalid
	}
	return NotFound
}

// Covering returns the most specific (longest-prefix) ROA that
// covers prefix with a *different* origin than origin, used by the
// detector to recognize a subprefix hijack (spec.md §4.5): oracle
// returns NotFound for the exact prefix but a covering shorter
// prefix has a Valid ROA for a different origin.
func (o *Oracle) Covering(prefix string, origin uint32) (VRPEntry, bool) {
	ip, _, err := net.ParseCIDR(prefix)
	if err != nil {
		return VRPEntry{}, false
	}
	var best *roa
	for i := range o.all {
		e := &o.all[i]
		if !e.network.Contains(ip) {
			continue
		}
		if e.originASN == origin {
			continue
		}
		if best == nil || e.prefixLen > best.prefixLen {
			best = e
		}
	}
	if best == nil {
		return VRPEntry{}, false
	}
	return VRPEntry{
		Prefix:    best.network.String(),
		MaxLength: best.maxLength,
		OriginASN: best.originASN,
	}, true
}
