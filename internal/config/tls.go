package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

type TLSConfig struct {
	SkipVerify bool   `koanf:"skip_verify"`
	CACert     string `koanf:"ca_cert"`
}

// ClientConfig builds the TLS settings for the connection. If neither
// SkipVerify nor CACert is set it returns nil and the system defaults apply.
func (t TLSConfig) ClientConfig() (*tls.Config, error) {
	if !t.SkipVerify && t.CACert == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: t.SkipVerify}

	if t.CACert != "" {
		caCert, err := os.ReadFile(t.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate %s: %w", t.CACert, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", t.CACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
