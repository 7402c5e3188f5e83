package speedtest

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// newHTTPClient builds a per-run client so idle connections can be dropped
// as soon as the test finishes.
func newHTTPClient(cfg RunConfig) (*http.Client, *http.Transport) {
	dial := dialTimeout(cfg.OperationTimeout)

	keepAlive := 30 * time.Second
	if cfg.DisableKeepAlives {
		keepAlive = -1
	}
	d := &net.Dialer{Timeout: dial, KeepAlive: keepAlive}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		IdleConnTimeout:       2 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     !cfg.DisableHTTP2,
	}
	if cfg.DisableHTTP2 {
		tr.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	if !cfg.DisableKeepAlives {
		tr.MaxIdleConns = 64
		tr.MaxIdleConnsPerHost = max(cfg.MaxConnections, 2)
		tr.IdleConnTimeout = 10 * time.Second
	}
	return &http.Client{Transport: tr}, tr
}

// dialTimeout is 10s, capped to half the operation timeout but never below 2s.
func dialTimeout(op time.Duration) time.Duration {
	d := 10 * time.Second
	if op <= 0 {
		return d
	}
	if half := op / 2; half < d {
		d = half
	}
	if d < 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

// userAgent sets the header speedtest-go adds in its own RoundTrip, which
// is bypassed once a custom doer is installed.
type userAgent struct {
	base  http.RoundTripper
	agent string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", u.agent)
	}
	return u.base.RoundTrip(req)
}

// newClient builds the speedtest client around hc. WithDoer must come after
// WithUserConfig, which otherwise replaces the doer's transport.
func newClient(cfg RunConfig, hc *http.Client) *st.Speedtest {
	if _, ok := hc.Transport.(userAgent); !ok {
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc.Transport = userAgent{base: base, agent: st.DefaultUserAgent}
	}
	return st.New(
		st.WithUserConfig(&st.UserConfig{
			UserAgent:      st.DefaultUserAgent,
			SavingMode:     cfg.SavingMode,
			MaxConnections: cfg.MaxConnections,
		}),
		st.WithDoer(hc),
	)
}
