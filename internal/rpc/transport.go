package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

type TransportOptions struct {
	// CAPath optionally points at a PEM bundle used instead of the system
	// roots.
	CAPath              string
	InsecureSkipVerify  bool
	DialTimeout         time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConnsPerHost int
}

// NewHTTPClient builds a client that negotiates HTTP/2 with TLS endpoints and
// falls back to HTTP/1.1 for plain http.
func NewHTTPClient(options TransportOptions) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: options.InsecureSkipVerify,
	}
	if options.CAPath != "" {
		pem, err := os.ReadFile(options.CAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s has no certificates", options.CAPath)
		}
		tlsConfig.RootCAs = pool
	}

	dialTimeout := options.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	idleTimeout := options.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}
	maxIdle := options.MaxIdleConnsPerHost
	if maxIdle <= 0 {
		maxIdle = 4
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: dialTimeout,
		IdleConnTimeout:     idleTimeout,
		MaxIdleConnsPerHost: maxIdle,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &http.Client{Transport: transport}, nil
}
