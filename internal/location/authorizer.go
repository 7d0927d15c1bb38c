// Package location decides whether a caller network address belongs to a
// known site.
package location

import (
	"context"
	"log"
	"strconv"
	"strings"

	"semaphore/badging/internal/metrics"
)

type Entry struct {
	Address   string   `json:"address"`
	Site      string   `json:"site"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type Verdict struct {
	Authorized bool     `json:"authorized"`
	Site       string   `json:"site,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// Known reports whether the verdict names a site. A fail-open verdict is
// authorized without being known.
func (v Verdict) Known() bool {
	return v.Authorized && v.Site != ""
}

type Source interface {
	ListLocations(ctx context.Context) ([]Entry, error)
}

type Authorizer struct {
	source Source
	logger *log.Logger
}

func NewAuthorizer(source Source, logger *log.Logger) *Authorizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Authorizer{source: source, logger: logger}
}

// Authorize never blocks badging: a failed lookup yields an authorized
// verdict without a site.
func (a *Authorizer) Authorize(ctx context.Context, addr string) Verdict {
	if a == nil || a.source == nil {
		return Verdict{Authorized: true}
	}
	entries, err := a.source.ListLocations(ctx)
	if err != nil {
		a.logger.Printf("location lookup failed, failing open: %v", err)
		metrics.Global().LocationFailOpen()
		return Verdict{Authorized: true}
	}
	entry, ok := Match(entries, addr)
	if !ok {
		return Verdict{}
	}
	return Verdict{
		Authorized: true,
		Site:       entry.Site,
		Latitude:   entry.Latitude,
		Longitude:  entry.Longitude,
	}
}

// Match returns the entry authorizing addr. Exact matches win; otherwise the
// longest whole-octet prefix (/8, /16, /24) wins and ties keep table order.
func Match(entries []Entry, addr string) (Entry, bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Entry{}, false
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.Address) == addr {
			return entry, true
		}
	}

	caller, ok := octets(addr)
	if !ok {
		return Entry{}, false
	}
	best := -1
	bestLen := 0
	for i, entry := range entries {
		base, bits, ok := parsePrefix(entry.Address)
		if !ok {
			continue
		}
		n := bits / 8
		if n <= bestLen {
			continue
		}
		if equalOctets(base[:n], caller[:n]) {
			best = i
			bestLen = n
		}
	}
	if best < 0 {
		return Entry{}, false
	}
	return entries[best], true
}

func parsePrefix(value string) ([4]int, int, bool) {
	address, mask, found := strings.Cut(strings.TrimSpace(value), "/")
	if !found {
		return [4]int{}, 0, false
	}
	bits, err := strconv.Atoi(mask)
	if err != nil {
		return [4]int{}, 0, false
	}
	switch bits {
	case 8, 16, 24:
	default:
		return [4]int{}, 0, false
	}
	base, ok := octets(address)
	if !ok {
		return [4]int{}, 0, false
	}
	return base, bits, true
}

func octets(value string) ([4]int, bool) {
	var out [4]int
	parts := strings.Split(value, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return out, false
		}
		out[i] = n
	}
	return out, true
}

func equalOctets(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
