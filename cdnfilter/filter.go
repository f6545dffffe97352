// Package cdnfilter excludes rows attributable to shared CDN/cloud
// infrastructure before any registry lookup is spent on them. Such IPs
// cannot be pinned to a single actor and would distort downstream
// geolocation analysis.
package cdnfilter

import "strings"

// Default exclusion lists. All three are overridable via configuration.
var (
	// DefaultASNs are well-known CDN/cloud autonomous systems.
	DefaultASNs = []int64{
		13335, 20940, 32787, 54113, 199524, 12989,
		16509, 14618, 15169, 8075, 31898, 45102, 20473, 14061, 63949,
		16276, 24940, 9009, 60781, 32934, 174, 262254, 57724, 209242, 132203,
	}

	// DefaultDomainKeys match against the row's domain field.
	DefaultDomainKeys = []string{
		"cloudflare", "akamai", "amazonaws", "cloudfront", "fastly", "cdn",
		"googleusercontent", "azure", "aliyuncs", "oraclecloud",
		"linodeusercontent", "digitaloceanspaces", "edgesuite", "edgekey",
		"cdn77", "gcore", "stackpath",
	}

	// DefaultOrgKeys match against the concatenated org/ISP text fields.
	DefaultOrgKeys = []string{
		"cloudflare", "akamai", "fastly", "amazon", "aws", "google", "microsoft",
		"azure", "oracle", "alibaba", "tencent", "linode", "digitalocean", "ovh",
		"hetzner", "meta", "facebook", "leaseweb", "g-core", "gcore", "stackpath",
		"ddos-guard", "ddos guard", "qrator",
	}
)

// Filter holds the compiled exclusion lists.
type Filter struct {
	domainKeys []string
	orgKeys    []string
	asns       map[int64]struct{}
}

// New builds a filter; empty slices select the built-in defaults.
func New(domainKeys, orgKeys []string, asns []int64) *Filter {
	if len(domainKeys) == 0 {
		domainKeys = DefaultDomainKeys
	}
	if len(orgKeys) == 0 {
		orgKeys = DefaultOrgKeys
	}
	if len(asns) == 0 {
		asns = DefaultASNs
	}
	f := &Filter{
		domainKeys: lowerAll(domainKeys),
		orgKeys:    lowerAll(orgKeys),
		asns:       make(map[int64]struct{}, len(asns)),
	}
	for _, a := range asns {
		f.asns[a] = struct{}{}
	}
	return f
}

// Exclude reports whether a row belongs to CDN/cloud infrastructure.
// hasASN distinguishes ASN 0 from a missing or unparsable ASN column.
func (f *Filter) Exclude(domain string, asn int64, hasASN bool, orgText string) bool {
	if containsAny(strings.ToLower(domain), f.domainKeys) {
		return true
	}
	if hasASN {
		if _, ok := f.asns[asn]; ok {
			return true
		}
	}
	return containsAny(strings.ToLower(orgText), f.orgKeys)
}

func containsAny(s string, keys []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
