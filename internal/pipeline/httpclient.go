package pipeline

import (
	"net/http"
	"time"
)

const defaultPoolSize = 16

// NewPooledHTTPClient returns a keep-alive client for one class of upstream.
// timeout bounds the whole exchange and also the wait for response headers,
// since render upstreams only answer once the media is ready.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: timeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
