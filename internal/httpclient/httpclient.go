package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Minute
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	DefaultUserAgent = "Mozilla/5.0 (compatible; parti_video_dl/1.0)"
)

// New returns a client that stamps userAgent on every request. One client is
// shared by every job in a process.
func New(timeout time.Duration, userAgent string) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &uaTransport{
			userAgent: userAgent,
			base: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: MaxIdleConnsPerHost,
				IdleConnTimeout:     DefaultIdleConnTimeout,
			},
		},
	}
}

type uaTransport struct {
	userAgent string
	base      http.RoundTripper
}

func (t *uaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
