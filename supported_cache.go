package x402

// supportedEntry records which facilitator answers for one (version, network, scheme)
type supportedEntry struct {
	kind       SupportedKind
	extensions []string
	client     FacilitatorClient
}

// capabilities is an immutable snapshot of what the configured facilitators
// support. Initialize builds a fresh one and swaps it in; readers never see a
// partially merged snapshot.
type capabilities struct {
	versions map[int]*NetworkRegistry[supportedEntry]
}

func newCapabilities() *capabilities {
	return &capabilities{
		versions: make(map[int]*NetworkRegistry[supportedEntry]),
	}
}

// add merges one facilitator's supported response. Earlier facilitators keep
// their (version, network, scheme) keys.
func (c *capabilities) add(client FacilitatorClient, supported SupportedResponse) int {
	added := 0
	for _, kind := range supported.Kinds {
		registry, ok := c.versions[kind.X402Version]
		if !ok {
			registry = NewNetworkRegistry[supportedEntry]()
			c.versions[kind.X402Version] = registry
		}
		entry := supportedEntry{
			kind:       kind,
			extensions: supported.Extensions,
			client:     client,
		}
		if registry.Register(kind.Network, kind.Scheme, entry) {
			added++
		}
	}
	return added
}

func (c *capabilities) lookup(version int, network Network, scheme string) (supportedEntry, bool) {
	if c == nil {
		return supportedEntry{}, false
	}
	return c.versions[version].Find(scheme, network)
}
