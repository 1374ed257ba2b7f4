package upstream

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewTransport returns the transport used for backend API calls. HTTP/2 is
// negotiated over TLS when the backend offers it.
func NewTransport() *http.Transport {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2: true,
	}
	_ = http2.ConfigureTransport(tr)
	return tr
}

// NewClient wraps NewTransport with an overall request timeout.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewTransport(),
		Timeout:   timeout,
	}
}
