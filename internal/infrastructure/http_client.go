package infrastructure

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

const maxRedirects = 10

// NewHTTPClient builds the client used for every NVR request. The timeout
// is applied to dialing, the TLS handshake and the wait for response
// headers; bodies of long clips are not cut off. The trust policy is
// consulted once per TLS connection for the dialed host only.
func NewHTTPClient(config domain.TransportConfig, policy domain.TrustPolicy, logger *zap.Logger) (*http.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = DenyAllPolicy{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseTLS := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.CAFile != "" {
		pool, err := loadCertPool(config.CAFile)
		if err != nil {
			return nil, err
		}
		baseTLS.RootCAs = pool
	}

	netDialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	dial := netDialer.DialContext

	if config.ProxyURL != "" {
		proxyDial, err := socksDialer(config.ProxyURL, netDialer)
		if err != nil {
			return nil, err
		}
		dial = proxyDial
	}

	dialer := &trustDialer{
		dial:             dial,
		base:             baseTLS,
		policy:           policy,
		handshakeTimeout: timeout,
		logger:           logger,
	}

	transport := &http.Transport{
		DialContext:           dial,
		DialTLSContext:        dialer.DialTLSContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects")
			}
			// Credentials follow redirects only within the same host
			if len(via) > 0 && req.URL.Host != via[0].URL.Host {
				req.Header.Del(domain.HeaderAuthorization)
				req.Header.Del(domain.HeaderServiceClientID)
				req.Header.Del(domain.HeaderServiceSecret)
			}
			return nil
		},
	}, nil
}

func socksDialer(rawURL string, forward *net.Dialer) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	if parsed.Scheme != "socks5" {
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}

	var auth *proxy.Auth
	if parsed.User != nil {
		password, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
	}

	d, err := proxy.SOCKS5("tcp", parsed.Host, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 proxy: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// trustDialer performs the TLS handshake itself so the trust decision is
// made against the host actually being dialed
type trustDialer struct {
	dial             func(ctx context.Context, network, addr string) (net.Conn, error)
	base             *tls.Config
	policy           domain.TrustPolicy
	handshakeTimeout time.Duration
	logger           *zap.Logger
}

// DialTLSContext dials addr and completes a TLS handshake. Certificate
// verification is skipped only when the policy trusts the host.
func (d *trustDialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	raw, err := d.dial(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	config := d.base.Clone()
	config.ServerName = host
	config.NextProtos = []string{"http/1.1"}
	if d.policy.ShouldTrust(host) {
		config.InsecureSkipVerify = true
		d.logger.Debug("Accepting server certificate without verification", zap.String("host", host))
	}

	hctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(hctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}
