// Package checks runs the per-site health probes: DNS resolution, an HTTP
// GET, a TLS certificate inspection and one ICMP echo.
//
// # Design
//
// Every probe is time-boxed on its own and a failure is absorbed into a nil
// metric instead of an error: the classifier decides what a missing value
// means. Probe ordering is fixed (DNS, HTTP, TLS, ICMP) but the results are
// independent — a dead resolver does not stop the HTTP client, which may
// resolve through other means.
package checks

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	userAgent = "PingTower/1.0 (+healthcheck)"

	dnsTimeout  = 10 * time.Second
	httpTimeout = 10 * time.Second
	tlsTimeout  = 10 * time.Second
	icmpTimeout = 3 * time.Second
)

// Result holds the raw metrics of one probe. Nil means the sub-check could
// not produce a value.
type Result struct {
	HTTPStatus  *int
	LatencyMs   *int
	Redirects   *int
	SSLDaysLeft *int
	PingMs      *float64
	DNSResolved bool
	Errors      int // count of failed sub-checks
}

// Prober runs all health checks against a site URL.
type Prober struct {
	resolver *net.Resolver
	pinger   Pinger
	now      func() time.Time
}

// Pinger sends a single ICMP echo and returns the RTT.
type Pinger interface {
	Ping(ctx context.Context, host string, timeout time.Duration) (*float64, error)
}

// New creates a prober with default timeouts and the fping-based pinger.
func New() *Prober {
	return &Prober{
		resolver: net.DefaultResolver,
		pinger:   NewFpingPinger(),
		now:      time.Now,
	}
}

// Probe runs all checks against the URL and returns the combined result.
// It never returns an error for target-side failures; those become nil
// metrics. Only an unparseable URL is an error.
func (p *Prober) Probe(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	res := &Result{}

	res.DNSResolved = p.checkDNS(ctx, u.Hostname())
	if !res.DNSResolved {
		res.Errors++
	}

	p.checkHTTP(ctx, rawURL, res)

	if strings.EqualFold(u.Scheme, "https") {
		p.checkTLS(ctx, u, res)
	}

	p.checkPing(ctx, u.Hostname(), res)

	return res, nil
}

// checkDNS resolves the host. Failure is not fatal to the HTTP probe.
func (p *Prober) checkDNS(ctx context.Context, host string) bool {
	ctx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := p.resolver.LookupHost(ctx, host)
	return err == nil && len(addrs) > 0
}

// checkHTTP performs the GET and records status, wall time and redirect
// count. Any transport error leaves HTTPStatus nil. The client is built per
// call because the redirect counter lives in its CheckRedirect closure.
func (p *Prober) checkHTTP(ctx context.Context, rawURL string, res *Result) {
	redirects := 0
	client := &http.Client{
		Timeout: httpTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirects = len(via)
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		res.Errors++
		return
	}
	req.Header.Set("User-Agent", userAgent)

	start := p.now()
	resp, err := client.Do(req)
	elapsed := int(p.now().Sub(start).Milliseconds())
	if err != nil {
		res.Errors++
		return
	}
	defer resp.Body.Close()

	res.HTTPStatus = &resp.StatusCode
	res.LatencyMs = &elapsed
	res.Redirects = &redirects
}

// checkTLS opens a TLS connection and computes whole days until the leaf
// certificate expires.
func (p *Prober) checkTLS(ctx context.Context, u *url.URL, res *Result) {
	port := u.Port()
	if port == "" {
		port = "443"
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: tlsTimeout},
		Config:    &tls.Config{ServerName: u.Hostname()},
	}

	ctx, cancel := context.WithTimeout(ctx, tlsTimeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		res.Errors++
		return
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		res.Errors++
		return
	}

	days := int(time.Until(state.PeerCertificates[0].NotAfter).Hours() / 24)
	res.SSLDaysLeft = &days
}

// checkPing sends one ICMP echo. Best effort: failures leave PingMs nil.
func (p *Prober) checkPing(ctx context.Context, host string, res *Result) {
	rtt, err := p.pinger.Ping(ctx, host, icmpTimeout)
	if err != nil || rtt == nil {
		res.Errors++
		return
	}
	rounded := math.Round(*rtt*100) / 100
	res.PingMs = &rounded
}
