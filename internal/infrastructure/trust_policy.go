package infrastructure

import (
	"strconv"
	"strings"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
)

// NewTrustPolicy returns the policy selected by the transport settings
func NewTrustPolicy(config domain.TransportConfig) domain.TrustPolicy {
	if !config.TrustPrivateNetworks {
		return DenyAllPolicy{}
	}
	return PrivateNetworkPolicy{AllowLinkLocal: config.TrustLinkLocal}
}

// PrivateNetworkPolicy accepts invalid certificates only from loopback and
// literal private IPv4 addresses
type PrivateNetworkPolicy struct {
	AllowLinkLocal bool
}

// ShouldTrust reports whether a certificate presented by host may be
// accepted without validation. DNS names are never trusted.
func (p PrivateNetworkPolicy) ShouldTrust(host string) bool {
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}

	octets, ok := parseIPv4Literal(host)
	if !ok {
		return false
	}

	switch {
	case octets[0] == 10:
		return true
	case octets[0] == 172 && octets[1] >= 16 && octets[1] <= 31:
		return true
	case octets[0] == 192 && octets[1] == 168:
		return true
	case octets[0] == 169 && octets[1] == 254:
		return p.AllowLinkLocal
	default:
		return false
	}
}

// DenyAllPolicy never relaxes certificate validation
type DenyAllPolicy struct{}

// ShouldTrust always returns false
func (DenyAllPolicy) ShouldTrust(string) bool {
	return false
}

// parseIPv4Literal accepts exactly four dot-separated decimal octets
func parseIPv4Literal(host string) ([4]int, bool) {
	var octets [4]int
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return octets, false
	}
	for i, part := range parts {
		if part == "" || len(part) > 3 {
			return octets, false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return octets, false
			}
		}
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return octets, false
		}
		octets[i] = n
	}
	return octets, true
}
