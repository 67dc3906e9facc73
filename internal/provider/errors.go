package provider

import "errors"

// ErrProviderExhausted indicates every provider in the selected chain was
// unavailable or failed.
var ErrProviderExhausted = errors.New("all providers in chain exhausted")

// ErrNoChain indicates no provider chain is configured for the requested
// tier.
var ErrNoChain = errors.New("no provider chain configured for tier")
