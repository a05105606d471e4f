package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/david/bidwatch/internal/store"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxDetailBody    = 8 << 20
)

var blockedPrefixes = func() []netip.Prefix {
	var out []netip.Prefix
	for _, s := range []string{"100.64.0.0/10", "fc00::/7", "fe80::/10"} {
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}()

// HTTPDetailFetcher loads per-record detail payloads: GET by project id for
// openings, POST with a JSON body by bulletin id for bulletins.
type HTTPDetailFetcher struct {
	Client     *http.Client
	Detail     DetailConfig
	MaxRetries int
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

// NewHTTPDetailFetcher builds a fetcher whose transport refuses private and
// loopback destinations, with the fixed per-request timeout from the registry.
func NewHTTPDetailFetcher(detail DetailConfig) *HTTPDetailFetcher {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           safeDialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPDetailFetcher{
		Client: &http.Client{
			Timeout:       time.Duration(detail.TimeoutSeconds) * time.Second,
			Transport:     transport,
			CheckRedirect: safeCheckRedirect,
		},
		Detail:     detail,
		MaxRetries: 2,
		Backoff:    500 * time.Millisecond,
	}
}

// FetchDetail implements DetailFetcher. Failures are wrapped in ErrNetwork.
func (f *HTTPDetailFetcher) FetchDetail(ctx context.Context, target DetailTarget) (*FetchedDocument, error) {
	build, err := f.requestBuilder(target)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.Backoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrNetwork, ctx.Err())
			case <-time.After(backoff + jitter):
			}
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build detail request: %w", err)
		}
		doc, status, err := f.do(req)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if !shouldRetry(err, status) {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNetwork, lastErr)
}

func (f *HTTPDetailFetcher) requestBuilder(target DetailTarget) (func(context.Context) (*http.Request, error), error) {
	if target.PrjID != "" && f.Detail.ProjectURL != "" && (target.Kind != store.KindBulletins || target.BulletinID == "") {
		u, err := url.Parse(f.Detail.ProjectURL)
		if err != nil {
			return nil, fmt.Errorf("%w: project detail url: %v", ErrNetwork, err)
		}
		q := u.Query()
		q.Set(f.Detail.ProjectParam, target.PrjID)
		u.RawQuery = q.Encode()
		endpoint := u.String()
		return func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return nil, err
			}
			setDetailHeaders(req)
			return req, nil
		}, nil
	}

	if target.BulletinID != "" && f.Detail.BulletinURL != "" {
		body, err := json.Marshal(map[string]string{f.Detail.BulletinField: target.BulletinID})
		if err != nil {
			return nil, err
		}
		endpoint := f.Detail.BulletinURL
		return func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			setDetailHeaders(req)
			req.Header.Set("Content-Type", "application/json;charset=utf-8")
			return req, nil
		}, nil
	}

	return nil, fmt.Errorf("%w: record has no id usable for a detail request", ErrNetwork)
}

func setDetailHeaders(req *http.Request) {
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
}

func (f *HTTPDetailFetcher) do(req *http.Request) (*FetchedDocument, int, error) {
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDetailBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return &FetchedDocument{
		URL:         req.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, resp.StatusCode, nil
}

// shouldRetry retries timeouts and throttling/5xx responses only.
func shouldRetry(err error, statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case 0:
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return true
		}
	}
	return false
}

// safeDialContext resolves the host and refuses private destinations before dialing.
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("blocked private IP: %s", ip)
		}
	}
	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return d.DialContext(ctx, network, addr)
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() ||
		ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if addr, ok := netip.AddrFromSlice(ip); ok {
		for _, p := range blockedPrefixes {
			if p.Contains(addr.Unmap()) {
				return true
			}
		}
	}
	return false
}

func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 5 {
		return fmt.Errorf("stopped after 5 redirects")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}
	host := strings.ToLower(req.URL.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	return nil
}
