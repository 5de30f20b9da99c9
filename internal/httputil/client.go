package httputil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

var (
	ErrInvalidCertificatePem = errors.New("invalid certificate PEM")
	ErrInvalidProxyURL       = errors.New("invalid proxy URL")
)

// ClientConfig controls the construction of outbound http clients used to
// reach a provider's endpoints.
type ClientConfig struct {
	// CAPem is an optional CA certificate PEM used to verify the provider's
	// server certificate. When empty the system CA chain is used.
	CAPem string

	// ProxyURL is an optional outbound proxy for all provider requests.
	ProxyURL string

	// SkipTLSVerify disables verification of the provider's server
	// certificate. Intended for test environments only.
	SkipTLSVerify bool

	// Timeout bounds every request made with the client, covering connection
	// setup through reading the response body.
	Timeout time.Duration
}

// NewClient creates a new http client for the given config. The client uses a
// pooled transport and enforces cfg.Timeout as the per-request deadline.
func NewClient(cfg ClientConfig) (*http.Client, error) {
	tr := cleanhttp.DefaultPooledTransport()

	if cfg.CAPem != "" || cfg.SkipTLSVerify {
		tlsConfig := &tls.Config{}
		if cfg.CAPem != "" {
			certPool := x509.NewCertPool()
			if ok := certPool.AppendCertsFromPEM([]byte(cfg.CAPem)); !ok {
				return nil, ErrInvalidCertificatePem
			}
			tlsConfig.RootCAs = certPool
		}
		if cfg.SkipTLSVerify {
			tlsConfig.InsecureSkipVerify = true
		}
		tr.TLSClientConfig = tlsConfig
	}

	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, ErrInvalidProxyURL
		}
		tr.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Transport: tr,
		Timeout:   cfg.Timeout,
	}, nil
}
