// Package dataset implements the read-only file loaders named in
// spec.md §6: the AS classification file, per-AS observation streams,
// the VRP table, and the (evaluation-only) ground-truth file. Loading
// is a startup-time concern only; parse failures are fatal per
// spec.md §7 ("dataset parse failure at startup... abort the process
// before any node runs"), so every loader here returns a wrapped error
// rather than a sentinel the hot path would need to handle.
//
// Grounded on the teacher's config.LoadYAML pattern (internal/config)
// of os.ReadFile + encoding error wrapped with %w, generalized from
// YAML to JSON since spec.md §6 describes the dataset files as
// JSON-like records.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/atahabilder1/bgp-sentry/internal/bgptypes"
	"github.com/atahabilder1/bgp-sentry/internal/oracle"
)

// ASRole is the role assigned to one AS in the classification file.
type ASRole string

const (
	RoleValidator ASRole = "validator"
	RoleObserved  ASRole = "observed"
)

// ASRecord is one entry of the AS classification file (spec.md §6),
// which maps each asn to {is_rpki_validator, role}. The file is read
// as a JSON array of these records, each carrying its own asn; a JSON
// object keyed by asn is not accepted. Exhaustive — every AS that will
// ever appear in an observation must have one.
type ASRecord struct {
	ASN             bgptypes.ASN `json:"asn"`
	IsRPKIValidator bool         `json:"is_rpki_validator"`
	Role            ASRole       `json:"role"`
}

// LoadASClassification reads the AS classification file and returns
// its records, failing fast on any malformed role so the caller never
// has to special-case an unrecognized role deep in node construction.
func LoadASClassification(path string) ([]ASRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading AS classification %s: %w", path, err)
	}
	var records []ASRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing AS classification %s: %w", path, err)
	}
	for _, r := range records {
		if r.Role != RoleValidator && r.Role != RoleObserved {
			return nil, fmt.Errorf("AS classification %s: asn %d has unrecognized role %q", path, r.ASN, r.Role)
		}
	}
	return records, nil
}

// rawObservation mirrors spec.md §6's per-AS observation record
// shape; ScenarioID is optional.
type rawObservation struct {
	Timestamp        float64        `json:"timestamp"`
	Prefix           string         `json:"prefix"`
	OriginASN        bgptypes.ASN   `json:"origin_asn"`
	ASPath           []bgptypes.ASN `json:"as_path"`
	AnnouncementType string         `json:"announcement_type"`
	ScenarioID       string         `json:"scenario_id,omitempty"`
}

// LoadObservations reads one AS's observation stream and returns it
// as bgptypes.Observation values with SourceASN set to observer,
// sorted by Timestamp (spec.md §6: "sorted by timestamp" is the input
// contract, but a defensive sort keeps a malformed file from silently
// reordering a node's ingestion).
func LoadObservations(path string, observer bgptypes.ASN) ([]bgptypes.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading observations %s: %w", path, err)
	}
	var raw []rawObservation
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing observations %s: %w", path, err)
	}

	out := make([]bgptypes.Observation, 0, len(raw))
	for _, r := range raw {
		var at bgptypes.AnnouncementType
		switch r.AnnouncementType {
		case string(bgptypes.Announce):
			at = bgptypes.Announce
		case string(bgptypes.Withdraw):
			at = bgptypes.Withdraw
		default:
			return nil, fmt.Errorf("observations %s: prefix %s has unrecognized announcement_type %q", path, r.Prefix, r.AnnouncementType)
		}
		out = append(out, bgptypes.Observation{
			Timestamp:        r.Timestamp,
			Prefix:           r.Prefix,
			OriginASN:        r.OriginASN,
			ASPath:           r.ASPath,
			SourceASN:        observer,
			AnnouncementType: at,
			ScenarioID:       r.ScenarioID,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// LoadVRPTable reads the VRP table and returns it as oracle.VRPEntry
// values ready for oracle.New.
func LoadVRPTable(path string) ([]oracle.VRPEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading VRP table %s: %w", path, err)
	}
	var entries []oracle.VRPEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing VRP table %s: %w", path, err)
	}
	return entries, nil
}

// GroundTruthEntry is one recorded attack in the evaluation-only
// ground-truth file (spec.md §6: "not consumed by the core").
type GroundTruthEntry struct {
	AttackID   string             `json:"attack_id"`
	AttackType bgptypes.AttackType `json:"attack_type"`
	OriginASN  bgptypes.ASN       `json:"origin_asn"`
	Prefix     string             `json:"prefix"`
	ScenarioID string             `json:"scenario_id"`
}

// LoadGroundTruth reads the ground-truth file. It is never wired into
// any validator's pipeline; it exists only for an external evaluation
// step to compare against the detection-results report (see
// internal/report).
func LoadGroundTruth(path string) ([]GroundTruthEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ground truth %s: %w", path, err)
	}
	var entries []GroundTruthEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing ground truth %s: %w", path, err)
	}
	return entries, nil
}
