package domain

import (
	"context"
	"net/http"
)

// AuthMode selects how outbound requests to the NVR are authenticated
type AuthMode string

const (
	AuthModeNone         AuthMode = "none"
	AuthModeBearer       AuthMode = "bearer"
	AuthModeDeviceSigned AuthMode = "deviceSigned"
	AuthModeServiceToken AuthMode = "serviceToken"
	// AuthModeCustom is reserved for a scheme that has not been registered
	// yet. It adds no headers but is reported as its own mode.
	AuthModeCustom AuthMode = "custom"
)

// Header names produced by the resolver
const (
	HeaderAuthorization       = "Authorization"
	HeaderServiceClientID     = "CF-Access-Client-Id"
	HeaderServiceSecret       = "CF-Access-Client-Secret"
	HeaderClientIdentifier    = "User-Agent"
	DefaultClientIdentifier   = "viewu/1.0"
	bearerAuthorizationScheme = "Bearer "
)

// ValidateAuthMode checks if an auth mode is known
func ValidateAuthMode(mode AuthMode) bool {
	switch mode {
	case AuthModeNone, AuthModeBearer, AuthModeDeviceSigned, AuthModeServiceToken, AuthModeCustom:
		return true
	default:
		return false
	}
}

// AuthConfig is a snapshot of the authentication settings for one session
type AuthConfig struct {
	Mode         AuthMode `mapstructure:"mode"`
	BearerToken  string   `mapstructure:"bearer_token"`
	DeviceToken  string   `mapstructure:"device_token"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
}

// TokenProducer mints a short-lived bearer credential
type TokenProducer interface {
	Token(ctx context.Context) (string, error)
}

// TokenProducerFunc adapts a function to TokenProducer
type TokenProducerFunc func(ctx context.Context) (string, error)

// Token calls f(ctx)
func (f TokenProducerFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Header is a single outbound header
type Header struct {
	Name  string
	Value string
}

// AuthHeaders is the ordered header set for one request. It is built fresh
// for every request and must not be cached.
type AuthHeaders []Header

// Add appends a header
func (h AuthHeaders) Add(name, value string) AuthHeaders {
	return append(h, Header{Name: name, Value: value})
}

// Get returns the first value for name
func (h AuthHeaders) Get(name string) (string, bool) {
	canonical := http.CanonicalHeaderKey(name)
	for _, header := range h {
		if http.CanonicalHeaderKey(header.Name) == canonical {
			return header.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present
func (h AuthHeaders) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Names returns header names in order, safe for logging
func (h AuthHeaders) Names() []string {
	names := make([]string, 0, len(h))
	for _, header := range h {
		names = append(names, header.Name)
	}
	return names
}

// Apply sets every header on dst, replacing existing values
func (h AuthHeaders) Apply(dst http.Header) {
	for _, header := range h {
		dst.Set(header.Name, header.Value)
	}
}

// HTTPHeader returns the headers as a fresh http.Header
func (h AuthHeaders) HTTPHeader() http.Header {
	out := make(http.Header, len(h))
	h.Apply(out)
	return out
}

// BearerAuthorization formats an Authorization value for token
func BearerAuthorization(token string) string {
	return bearerAuthorizationScheme + token
}
