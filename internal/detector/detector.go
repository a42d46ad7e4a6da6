// Package detector implements C5: the pure function that classifies
// an observation into {benign, prefix-hijack, subprefix-hijack,
// bogon, flapping} (spec.md §4.5). Modeled on spec.md §9's "replace
// exception-for-control-flow... with a result variant
// {benign | attack(kind)}, propagate by value": Classify never
// panics and has no error return; a malformed prefix is simply not a
// bogon and falls through to the oracle lookup.
package detector

import (
	"net"
	"sync"
	"time"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
)

// Result is the classification outcome plus enough context for the
// caller to build an attack verdict.
type Result struct {
	Type bgptypes.AttackType
}

// Benign reports whether the result is the non-attack outcome.
func (r Result) Benign() bool { return r.Type == bgptypes.Benign }

// bogonNets is the static IANA reserved/special-use set (spec.md
// §4.5): RFC 1918, RFC 6598, documentation ranges, default route,
// loopback, multicast.
var bogonNets = mustParseCIDRs(
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"100.64.0.0/10",  // RFC 6598 (carrier-grade NAT)
	"192.0.2.0/24",   // TEST-NET-1
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24", // TEST-NET-3
	"0.0.0.0/8",      // "this" network
	"127.0.0.0/8",    // loopback
	"224.0.0.0/4",    // multicast
	"240.0.0.0/4",    // reserved
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("detector: invalid static bogon CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

func isBogon(prefix string) bool {
	ip, _, err := net.ParseCIDR(prefix)
	if err != nil {
		return false
	}
	for _, n := range bogonNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// FlapHistory is the per-(prefix, origin) bounded ring of transitions
// within a sliding window (spec.md §3, §4.5). One instance is owned
// per validator's Virtual Node and shared by its observation stream
// and its vote handlers (which re-run Classify from the inbox
// consumer), so Observe serializes access with mu.
type FlapHistory struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	dedup     time.Duration
	byKey     map[flapKey]*flapState
}

type flapKey struct {
	prefix string
	origin bgptypes.ASN
}

type flapState struct {
	lastType time.Time
	lastKind bgptypes.AnnouncementType
	hasLast  bool
	transitions []time.Time
}

// NewFlapHistory builds an empty flap tracker with the given window,
// threshold and dedup interval (spec.md §6 defaults are FlapWindow=60s,
// FlapThreshold=5, FlapDedup=2s).
func NewFlapHistory(window time.Duration, threshold int, dedup time.Duration) *FlapHistory {
	return &FlapHistory{
		window:    window,
		threshold: threshold,
		dedup:     dedup,
		byKey:     make(map[flapKey]*flapState),
	}
}

// Observe records o's announcement/withdrawal transition and reports
// whether the (prefix, origin) pair is now flapping: at least
// FlapThreshold distinct transitions within FlapWindow, after
// collapsing transitions occurring within FlapDedup of each other
// into one event (spec.md §4.5).
func (f *FlapHistory) Observe(o bgptypes.Observation, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := flapKey{o.Prefix, o.OriginASN}
	st, ok := f.byKey[key]
	if !ok {
		st = &flapState{}
		f.byKey[key] = st
	}

	isTransition := st.hasLast && st.lastKind != o.AnnouncementType
	if isTransition {
		if len(st.transitions) == 0 || now.Sub(st.transitions[len(st.transitions)-1]) >= f.dedup {
			st.transitions = append(st.transitions, now)
		}
	}
	st.lastKind = o.AnnouncementType
	st.hasLast = true

	// Drop transitions that have aged out of the window.
	cutoff := now.Add(-f.window)
	kept := st.transitions[:0]
	for _, ts := range st.transitions {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.transitions = kept

	return len(st.transitions) >= f.threshold
}

// Classify is C5's pure decision function (spec.md §4.5). oracle must
// be non-nil; flaps may be nil if the caller does not want flap
// detection (e.g. a peer re-running only hijack/bogon checks).
func Classify(o bgptypes.Observation, orc *oracle.Oracle, flaps *FlapHistory, now time.Time) Result {
	// Bogon takes precedence over hijack (spec.md §4.5 edge-case
	// policy).
	if isBogon(o.Prefix) {
		return Result{Type: bgptypes.Bogon}
	}

	res := orc.Validate(o.Prefix, uint32(o.OriginASN))
	switch res {
	case oracle.Valid:
		// Valid is always benign, even during a flapping storm (spec.md
		// §4.5 edge case); still record the transition so later,
		// non-valid observations on this pair see accurate history.
		if flaps != nil {
			flaps.Observe(o, now)
		}
		return Result{Type: bgptypes.Benign}
	case oracle.Invalid:
		return Result{Type: bgptypes.PrefixHijack}
	default: // NotFound
		if _, covered := orc.Covering(o.Prefix, uint32(o.OriginASN)); covered {
			return Result{Type: bgptypes.SubprefixHijack}
		}
	}

	if flaps != nil && flaps.Observe(o, now) {
		return Result{Type: bgptypes.Flapping}
	}

	return Result{Type: bgptypes.Benign}
}

// ClassifyRouteLeak is the stub named in spec.md §9's Open Questions:
// no active detector for route-leak exists yet in the hot path, so
// this always returns benign. The rating delta for route-leak
// (RatingRouteLeakDelta) remains reserved and reachable once a real
// detector is substituted here.
func ClassifyRouteLeak(bgptypes.Observation) Result {
	return Result{Type: bgptypes.Benign}
}
