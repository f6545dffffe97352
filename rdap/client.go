// Package rdap queries RDAP registry metadata for IP addresses through
// a bootstrap redirector and normalizes responses into cache entries.
// Transient rate-limit failures are retried with exponential backoff;
// any other failure is recorded as a failed entry, never raised.
package rdap

import (
	"context"
	"fmt"
	"io"
	"math/bits"
	"net/http"
	"net/netip"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"rdapenrich/cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultBaseURL is the public RDAP bootstrap redirector: it answers
// any IP query with a redirect to the registry of record.
const DefaultBaseURL = "https://rdap.org"

// Client performs RDAP IP network lookups.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client against the given bootstrap base URL.
func NewClient(base string, timeout time.Duration) *Client {
	if strings.TrimSpace(base) == "" {
		base = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Network is the subset of an RDAP IP network document the pipeline
// cares about.
type Network struct {
	Handle   string
	Name     string
	Country  string
	CIDR     string
	Registry string
}

// document mirrors the RDAP JSON wire format, including the cidr0
// extension carried by the RIR servers.
type document struct {
	Handle       string   `json:"handle"`
	StartAddress string   `json:"startAddress"`
	EndAddress   string   `json:"endAddress"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Country      string   `json:"country"`
	Port43       string   `json:"port43"`
	CIDR0        []cidr0  `json:"cidr0_cidrs"`
	Remarks      []remark `json:"remarks"`
}

type cidr0 struct {
	V4Prefix string `json:"v4prefix"`
	V6Prefix string `json:"v6prefix"`
	Length   int    `json:"length"`
}

type remark struct {
	Title       string   `json:"title"`
	Description []string `json:"description"`
}

// Lookup fetches the RDAP network document covering ip. The returned
// error text is what the backoff layer classifies, so rate-limit
// responses must surface their status code in it.
func (c *Client) Lookup(ctx context.Context, ip string) (*Network, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/ip/"+ip, nil)
	if err != nil {
		return nil, fmt.Errorf("rdap: request: %w", err)
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rdap: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rdap: %s: HTTP 429 too many requests", ip)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rdap: %s: HTTP %d", ip, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rdap: read body: %w", err)
	}
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("rdap: parse %s: %w", ip, err)
	}

	n := &Network{
		Handle:  doc.Handle,
		Name:    doc.Name,
		Country: strings.ToUpper(strings.TrimSpace(doc.Country)),
		CIDR:    doc.cidr(),
	}
	if n.Name == "" {
		n.Name = doc.Handle
	}
	// The server that finally answered (after bootstrap redirects)
	// identifies the registry of record.
	final := ""
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.Host
	}
	n.Registry = registryFromHosts(final, doc.Port43)
	return n, nil
}

// cidr renders the covered prefixes: the cidr0 extension when present,
// otherwise a cover computed from the start/end addresses.
func (d *document) cidr() string {
	if len(d.CIDR0) > 0 {
		parts := make([]string, 0, len(d.CIDR0))
		for _, c := range d.CIDR0 {
			prefix := c.V4Prefix
			if prefix == "" {
				prefix = c.V6Prefix
			}
			if prefix == "" {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s/%d", prefix, c.Length))
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return rangeCIDR(d.StartAddress, d.EndAddress)
}

// rangeCIDR derives prefixes from an address range. IPv4 ranges get an
// exact cover; IPv6 ranges collapse to the longest common prefix, which
// is sufficient in practice since RIR documents carry cidr0 for v6.
func rangeCIDR(start, end string) string {
	s, err1 := netip.ParseAddr(strings.TrimSpace(start))
	e, err2 := netip.ParseAddr(strings.TrimSpace(end))
	if err1 != nil || err2 != nil {
		return ""
	}
	if s.Is4() && e.Is4() {
		return strings.Join(coverV4(s.As4(), e.As4()), ", ")
	}
	plen := commonPrefixLen(s.As16(), e.As16())
	p, err := s.Prefix(plen)
	if err != nil {
		return ""
	}
	return p.String()
}

func coverV4(start, end [4]byte) []string {
	lo := uint64(start[0])<<24 | uint64(start[1])<<16 | uint64(start[2])<<8 | uint64(start[3])
	hi := uint64(end[0])<<24 | uint64(end[1])<<16 | uint64(end[2])<<8 | uint64(end[3])
	var out []string
	for lo <= hi {
		// Widest block aligned at lo that does not pass hi.
		size := lo & (^lo + 1)
		if size == 0 {
			size = 1 << 32
		}
		for lo+size-1 > hi {
			size >>= 1
		}
		prefix := 32 - bits.TrailingZeros64(size)
		addr := netip.AddrFrom4([4]byte{byte(lo >> 24), byte(lo >> 16), byte(lo >> 8), byte(lo)})
		out = append(out, fmt.Sprintf("%s/%d", addr, prefix))
		lo += size
		if lo == 0 {
			break
		}
	}
	return out
}

func commonPrefixLen(a, b [16]byte) int {
	for i := 0; i < 16; i++ {
		if a[i] == b[i] {
			continue
		}
		x := a[i] ^ b[i]
		n := 0
		for x&0x80 == 0 {
			x <<= 1
			n++
		}
		return i*8 + n
	}
	return 128
}

// registryFromHosts maps server hostnames onto RIR identifiers.
func registryFromHosts(hosts ...string) string {
	for _, h := range hosts {
		h = strings.ToLower(h)
		switch {
		case h == "":
		case strings.Contains(h, "arin"):
			return "arin"
		case strings.Contains(h, "ripe"):
			return "ripencc"
		case strings.Contains(h, "apnic"):
			return "apnic"
		case strings.Contains(h, "afrinic"):
			return "afrinic"
		case strings.Contains(h, "lacnic"), strings.Contains(h, "registro.br"):
			return "lacnic"
		}
	}
	return ""
}

// Enrich performs a retried lookup and normalizes the outcome into a
// cache entry. Failures are returned as failed entries, never as
// errors: a single IP must not abort its batch.
func (c *Client) Enrich(ctx context.Context, ip string) cache.Entry {
	n, err := retryLookup(func() (*Network, error) {
		return c.Lookup(ctx, ip)
	}, baseRetryInterval)
	if err != nil {
		return cache.Entry{Error: err.Error()}
	}
	return cache.Entry{
		OK:       true,
		NetCC:    n.Country,
		Org:      n.Name,
		CIDR:     n.CIDR,
		Registry: n.Registry,
	}
}
