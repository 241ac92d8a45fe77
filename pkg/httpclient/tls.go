package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// TLSConfig configures the transport used to reach model and rerank servers.
type TLSConfig struct {
	InsecureSkipVerify bool
	CACertificate      string
}

// ConfigureTLS clones the default transport and applies config to it.
func ConfigureTLS(config *TLSConfig) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}

	if config != nil && config.CACertificate != "" {
		caCert, err := os.ReadFile(config.CACertificate)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate from %s: %w", config.CACertificate, err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %s", config.CACertificate)
		}

		transport.TLSClientConfig.RootCAs = caCertPool
	}

	// dev and test only
	if config != nil && config.InsecureSkipVerify {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	return transport, nil
}

// WithTLSConfig installs a transport built by ConfigureTLS. A bad CA file is
// logged and the default transport kept.
func WithTLSConfig(config *TLSConfig) Option {
	return func(c *Client) {
		if config != nil {
			transport, err := ConfigureTLS(config)
			if err != nil {
				slog.Warn("Failed to configure TLS, using default transport", "error", err)
				return
			}
			if c.client == nil {
				c.client = &http.Client{Timeout: 60 * time.Second}
			}
			c.client.Transport = transport
		}
	}
}
