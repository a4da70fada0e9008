package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	UserAgent      = "UptimeMonitor/1.0"

	maxRedirects = 5
	maxBodyDrain = 64 << 10
)

// ErrTooManyRedirects fails a probe whose redirect chain exceeds maxRedirects.
var ErrTooManyRedirects = errors.New("too many redirects")

type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber returns a prober that skips certificate verification. A
// non-positive timeout selects DefaultTimeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPProber{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, target string) Result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Up: false, Error: describe(err), LatencyMS: elapsedMS(start)}
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.Client.Do(req)
	latency := elapsedMS(start)
	if err != nil {
		return Result{Up: false, Error: describe(err), LatencyMS: latency}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyDrain))

	code := resp.StatusCode
	return Result{
		Up:         Classify(code),
		StatusCode: &code,
		LatencyMS:  latency,
	}
}

func elapsedMS(start time.Time) int64 {
	return int64(math.Round(float64(time.Since(start)) / float64(time.Millisecond)))
}

// describe turns a transport error into the message stored on the check record.
func describe(err error) string {
	var (
		dnsErr *net.DNSError
		netErr net.Error
		recErr tls.RecordHeaderError
		crtErr *tls.CertificateVerificationError
	)
	switch {
	case errors.Is(err, ErrTooManyRedirects):
		return "Too many redirects"
	case errors.As(err, &dnsErr):
		if dnsErr.IsNotFound {
			return "DNS lookup failed: " + dnsErr.Name + " not found"
		}
		return "DNS lookup failed: " + dnsErr.Name
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "Connection timeout"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused"
	case errors.As(err, &recErr), errors.As(err, &crtErr):
		return "TLS handshake failed: " + err.Error()
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "request failed"
	}
	return msg
}
