// Package consensus reconciles the dataset-provided country code with
// the registry-derived one into a single verdict for the two tracked
// countries.
package consensus

import "strings"

// Rule tags describing how the resolved label relates to the two
// estimates. These values are part of the output format.
const (
	RuleStrict   = "strict"
	RuleConflict = "conflict"
	RuleMMOnly   = "mm_only"
	RuleRDAPOnly = "rdap_only"
	RuleNone     = "no_ru_ua"
)

// tracked maps the country codes under study to their resolved labels.
var tracked = map[string]string{
	"RU": "Russia",
	"UA": "Ukraine",
}

// naTokens are placeholder values treated as an absent country code.
var naTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "NONE": {}, "NULL": {}, "NAN": {},
}

// NormalizeCC uppercases a country code and collapses NA-like
// placeholders to the empty string.
func NormalizeCC(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if _, na := naTokens[s]; na {
		return ""
	}
	return s
}

// Resolve returns (label, rule) for a dataset code and a registry code.
// Inputs are normalized internally. Precedence:
//
//  1. both tracked and equal        → strict, shared label
//  2. both tracked but different    → conflict, no label
//  3. only dataset tracked          → mm_only, dataset label
//  4. only registry tracked         → rdap_only, registry label
//  5. otherwise                     → no_ru_ua, no label
//
// In strictOnly mode only rule 1 is produced; every other row keeps the
// default no_ru_ua tag, including genuine mm_only/rdap_only cases.
func Resolve(datasetCC, registryCC string, strictOnly bool) (string, string) {
	mm := NormalizeCC(datasetCC)
	rd := NormalizeCC(registryCC)

	mmLabel, mmTracked := tracked[mm]
	rdLabel, rdTracked := tracked[rd]

	if mmTracked && rdTracked && mm == rd {
		return mmLabel, RuleStrict
	}
	if strictOnly {
		return "", RuleNone
	}
	switch {
	case mmTracked && rdTracked:
		return "", RuleConflict
	case mmTracked:
		return mmLabel, RuleMMOnly
	case rdTracked:
		return rdLabel, RuleRDAPOnly
	default:
		return "", RuleNone
	}
}

// Tracked reports whether the normalized code is one of the tracked
// countries. Used by the candidate-restriction option.
func Tracked(cc string) bool {
	_, ok := tracked[NormalizeCC(cc)]
	return ok
}
