package infrastructure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"go.uber.org/zap"
)

// RelayPlayerFactory builds RelayPlayers for streaming sessions
type RelayPlayerFactory struct {
	ProbeTimeout time.Duration
	Logger       *zap.Logger
}

// NewPlayer constructs a relay for asset and starts probing the upstream in
// the background. Construction never waits for the network.
func (f RelayPlayerFactory) NewPlayer(ctx context.Context, asset domain.Asset) (domain.Player, error) {
	return NewRelayPlayer(asset, f.ProbeTimeout, f.Logger)
}

// RelayPlayer serves a remote stream to local clients, attaching the
// session's auth headers and using its trust-aware client. Relative
// resources such as HLS segments resolve against the asset URL.
type RelayPlayer struct {
	asset  domain.Asset
	base   *url.URL
	proxy  *httputil.ReverseProxy
	logger *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRelayPlayer creates a relay for asset
func NewRelayPlayer(asset domain.Asset, probeTimeout time.Duration, logger *zap.Logger) (*RelayPlayer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(asset.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid asset url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported stream scheme: %s", base.Scheme)
	}
	if asset.Client == nil {
		asset.Client = http.DefaultClient
	}
	if probeTimeout <= 0 {
		probeTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &RelayPlayer{
		asset:  asset,
		base:   base,
		logger: logger.With(zap.String("asset", base.Redacted())),
		ready:  make(chan struct{}),
		cancel: cancel,
	}

	transport := asset.Client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	p.proxy = &httputil.ReverseProxy{
		Transport: transport,
		Rewrite:   p.rewrite,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn("Relay request failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				p.markReady()
			}
			return nil
		},
	}

	p.wg.Add(1)
	go p.probe(ctx, probeTimeout)
	return p, nil
}

// Ready is closed once the upstream has answered with media
func (p *RelayPlayer) Ready() <-chan struct{} {
	return p.ready
}

// Close stops the probe. Requests already being relayed finish on their own.
func (p *RelayPlayer) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
	return nil
}

// ServeHTTP relays one request. The request path is taken relative to the
// asset URL; an empty path means the asset itself.
func (p *RelayPlayer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p.proxy.ServeHTTP(w, r)
}

// Resolve maps a relay path onto the upstream URL
func (p *RelayPlayer) Resolve(relative string, rawQuery string) *url.URL {
	relative = strings.TrimPrefix(relative, "/")
	if relative == "" {
		target := *p.base
		return &target
	}
	target := p.base.ResolveReference(&url.URL{Path: relative, RawQuery: rawQuery})
	// Never leave the asset's origin
	target.Scheme = p.base.Scheme
	target.Host = p.base.Host
	target.User = nil
	return target
}

func (p *RelayPlayer) rewrite(pr *httputil.ProxyRequest) {
	target := p.Resolve(pr.In.URL.Path, pr.In.URL.RawQuery)
	pr.Out.URL = target
	pr.Out.Host = target.Host

	// Local credentials never reach the NVR
	pr.Out.Header.Del("Authorization")
	pr.Out.Header.Del("Cookie")
	for name, values := range p.asset.Headers {
		pr.Out.Header[name] = append([]string(nil), values...)
	}
}

func (p *RelayPlayer) markReady() {
	p.readyOnce.Do(func() {
		close(p.ready)
		p.logger.Debug("Stream ready to render")
	})
}

// probe asks for the first byte of the asset to learn whether the pipeline
// can start rendering
func (p *RelayPlayer) probe(ctx context.Context, timeout time.Duration) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base.String(), nil)
	if err != nil {
		return
	}
	for name, values := range p.asset.Headers {
		req.Header[name] = append([]string(nil), values...)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := p.asset.Client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("Stream probe failed", zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.markReady()
		return
	}
	p.logger.Warn("Stream probe rejected", zap.Int("status", resp.StatusCode))
}
