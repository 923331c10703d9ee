package pulse

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/HerbHall/pulsewatch/pkg/models"
)

// Compile-time interface guard.
var _ Checker = (*HTTPChecker)(nil)

// payloadLimit caps how much of a response body is kept in a result.
const payloadLimit = 2048

// fallbackTimeout bounds a probe whose context carries no deadline.
const fallbackTimeout = 10 * time.Second

// HTTPChecker probes HTTP/HTTPS endpoints with a GET request. Redirects are
// not followed, and any status in [200,400) counts as healthy.
type HTTPChecker struct {
	client   *http.Client // verifies certificates
	insecure *http.Client // for services with IgnoreCertValidation
}

// NewHTTPChecker creates a new HTTP checker.
func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{
		client:   newProbeClient(false),
		insecure: newProbeClient(true),
	}
}

func newProbeClient(skipVerify bool) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: skipVerify}, //nolint:gosec // G402: opt-in per service for self-signed certs
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Check sends a GET to the service target.
func (c *HTTPChecker) Check(ctx context.Context, def *models.ServiceDefinition) models.HealthCheckResult {
	return c.get(ctx, def, def.Target)
}

func (c *HTTPChecker) get(ctx context.Context, def *models.ServiceDefinition, target string) models.HealthCheckResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return failedResult(start, "invalid URL %q: %v", target, err)
	}
	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "Pulsewatch-Probe/1.0")
	}

	client := c.client
	if def.IgnoreCertValidation {
		client = c.insecure
	}

	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		r := failedResult(start, "%v", err)
		r.ResponseTimeMs = elapsedMs(elapsed)
		return r
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, payloadLimit))
	resp.Body.Close()

	result := models.HealthCheckResult{
		StatusCode:     resp.StatusCode,
		Success:        resp.StatusCode >= 200 && resp.StatusCode < 400,
		ResponseTimeMs: elapsedMs(elapsed),
		Timestamp:      time.Now().UTC(),
		Payload:        string(body),
	}
	if !result.Success {
		result.Error = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if req.URL.Scheme == "https" {
		if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
			expiry := resp.TLS.PeerCertificates[0].NotAfter.UTC()
			result.SSLExpiry = &expiry
		} else if expiry, ok := certificateExpiry(ctx, req.URL); ok {
			result.SSLExpiry = &expiry
		}
	}
	return result
}

// certificateExpiry performs a standalone TLS handshake with u's host only to
// read the leaf certificate. Its outcome never affects the probe result.
func certificateExpiry(ctx context.Context, u *url.URL) (time.Time, bool) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: budget(ctx, fallbackTimeout)},
		Config: &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec // G402: metadata only
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return time.Time{}, false
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return time.Time{}, false
	}
	return state.PeerCertificates[0].NotAfter.UTC(), true
}
