package pipeline

import "rdapenrich/cache"

// SelectOptions tune which cached entries are considered good enough to
// skip this run.
type SelectOptions struct {
	// RetryFailed re-queries IPs whose cached lookup failed.
	RetryFailed bool
	// RetryEmptyCC re-queries successful entries missing a country code.
	RetryEmptyCC bool
	// Budget caps fresh lookups per file; 0 means unlimited.
	Budget int
}

// SelectLookups decides which of the candidate IPs need a fresh lookup.
// Candidate order is preserved; admission stops once the budget is
// spent. Each IP appears at most once, so no two workers ever race on
// the same key.
func SelectLookups(ips []string, store *cache.Store, opt SelectOptions) []string {
	var out []string
	for _, ip := range ips {
		if opt.Budget > 0 && len(out) >= opt.Budget {
			break
		}
		e, ok := store.Get(ip)
		if ok {
			if !e.OK && !opt.RetryFailed {
				continue
			}
			if e.OK {
				if !(opt.RetryEmptyCC && e.NetCC == "") {
					continue
				}
			}
		}
		out = append(out, ip)
	}
	return out
}
