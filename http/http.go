// Package http provides HTTP-specific implementations of x402 components.
// This includes the HTTP facilitator client, the header codecs used on the
// wire, and payment header validation.
package http

import (
	x402 "github.com/boorich/naveens"
)

// NewResourceServer creates a resource server that talks to facilitators over
// HTTP. When no facilitator is configured, the public facilitator at
// DefaultFacilitatorURL is used.
func NewResourceServer(opts ...x402.ResourceServerOption) *x402.X402ResourceServer {
	server := x402.Newx402ResourceServer(opts...)
	if len(server.FacilitatorClients()) == 0 {
		server.SetFacilitatorClients(NewHTTPFacilitatorClient(&FacilitatorConfig{URL: DefaultFacilitatorURL}))
	}
	return server
}
