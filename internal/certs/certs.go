// Package certs builds the TLS configuration used to reach brokers.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"edgerelay/internal/config"
	"edgerelay/internal/logger"
)

// ErrCertificate is returned when the configured CA bundle cannot be used.
var ErrCertificate = errors.New("certificate bootstrap failed")

// Load returns a TLS config trusting the CA bundle named in cfg, or nil when
// neither a bundle nor verification bypass is configured.
func Load(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CACertificateFile == "" && !cfg.BypassCertVerification {
		return nil, nil
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	log := logger.WithComponent("certs")

	if cfg.CACertificateFile != "" {
		pem, err := os.ReadFile(cfg.CACertificateFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrCertificate, cfg.CACertificateFile, err)
		}

		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrCertificate, cfg.CACertificateFile)
		}
		tlsCfg.RootCAs = pool

		log.Info().Str("file", cfg.CACertificateFile).Msg("CA certificate installed")
	}

	if cfg.BypassCertVerification {
		log.Warn().Msg("certificate verification disabled")
		tlsCfg.InsecureSkipVerify = true
	}

	return tlsCfg, nil
}
