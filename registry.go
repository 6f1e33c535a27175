package x402

import (
	"regexp"
	"strings"
)

// NetworkRegistry maps network -> scheme -> implementation.
//
// Networks may be registered as patterns such as "eip155:*". Lookups try the
// exact network key first, then every registered pattern in registration order.
// The first registration for a (network, scheme) pair wins.
//
// A NetworkRegistry is not safe for concurrent mutation; callers guard it or
// treat it as immutable once built.
type NetworkRegistry[T any] struct {
	order    []Network
	entries  map[Network]map[string]T
	patterns map[Network]*regexp.Regexp
}

// NewNetworkRegistry creates an empty registry
func NewNetworkRegistry[T any]() *NetworkRegistry[T] {
	return &NetworkRegistry[T]{
		entries:  make(map[Network]map[string]T),
		patterns: make(map[Network]*regexp.Regexp),
	}
}

// Register stores impl under (network, scheme) unless that pair is already taken.
// Returns false when an earlier registration was kept.
func (r *NetworkRegistry[T]) Register(network Network, scheme string, impl T) bool {
	schemes, exists := r.entries[network]
	if !exists {
		schemes = make(map[string]T)
		r.entries[network] = schemes
		r.order = append(r.order, network)
		r.patterns[network] = compileNetworkPattern(network)
	}

	if _, taken := schemes[scheme]; taken {
		return false
	}
	schemes[scheme] = impl
	return true
}

// Find returns the implementation for scheme on network, honouring wildcard patterns
func (r *NetworkRegistry[T]) Find(scheme string, network Network) (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}

	if schemes, exists := r.entries[network]; exists {
		if impl, ok := schemes[scheme]; ok {
			return impl, true
		}
	}

	for _, registered := range r.order {
		if registered == network {
			continue
		}
		if !r.patterns[registered].MatchString(string(network)) {
			continue
		}
		if impl, ok := r.entries[registered][scheme]; ok {
			return impl, true
		}
	}

	return zero, false
}

// Networks returns registered network keys in registration order
func (r *NetworkRegistry[T]) Networks() []Network {
	out := make([]Network, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of (network, scheme) registrations
func (r *NetworkRegistry[T]) Len() int {
	n := 0
	for _, schemes := range r.entries {
		n += len(schemes)
	}
	return n
}

// compileNetworkPattern escapes regex metacharacters and turns each literal "*"
// into "match any substring", anchored at both ends.
func compileNetworkPattern(network Network) *regexp.Regexp {
	quoted := regexp.QuoteMeta(string(network))
	expr := "^" + strings.ReplaceAll(quoted, `\*`, ".*") + "$"
	return regexp.MustCompile(expr)
}

// MatchNetwork reports whether network matches pattern, where pattern may contain "*"
func MatchNetwork(pattern, network Network) bool {
	if pattern == network {
		return true
	}
	return compileNetworkPattern(pattern).MatchString(string(network))
}
