package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

// TLSManager picks the serving certificate: ACME when enabled, then the
// configured key pair, then a generated development certificate.
type TLSManager struct {
	config   config.ServerConfig
	autoCert *autocert.Manager

	mu       sync.Mutex
	fallback *tls.Certificate
}

func NewTLSManager(cfg config.ServerConfig) *TLSManager {
	manager := &TLSManager{config: cfg}
	if cfg.AutoCert && cfg.EnableTLS {
		manager.setupAutoCert()
	}
	return manager
}

func (m *TLSManager) setupAutoCert() {
	if err := os.MkdirAll(m.config.AutoCertDir, 0o700); err != nil {
		util.Warn("Could not create autocert directory", zap.Error(err))
		return
	}

	m.autoCert = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(m.config.Domain),
		Cache:      autocert.DirCache(m.config.AutoCertDir),
		Email:      m.config.Email,
	}

	util.Info("AutoCert configured",
		zap.String("domain", m.config.Domain),
		zap.String("cache_dir", m.config.AutoCertDir))
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.autoCert != nil {
		cert, err := m.autoCert.GetCertificate(hello)
		if err == nil {
			return cert, nil
		}
		util.Warn("AutoCert failed, falling back", zap.String("server_name", hello.ServerName), zap.Error(err))
	}
	return m.fallbackCertificate()
}

// fallbackCertificate loads the key pair or development certificate once.
func (m *TLSManager) fallbackCertificate() (*tls.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback != nil {
		return m.fallback, nil
	}

	if m.config.CertFile != "" && m.config.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.config.CertFile, m.config.KeyFile)
		if err == nil {
			m.fallback = &cert
			return m.fallback, nil
		}
		util.Warn("Could not load configured certificate", zap.String("cert_file", m.config.CertFile), zap.Error(err))
	}

	hosts := []string{m.config.Domain, "localhost", "127.0.0.1", "::1"}
	cert, err := NewDevCertGenerator(m.config.AutoCertDir).GenerateCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	m.fallback = &cert
	return m.fallback, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	cfg := &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		},
	}
	if m.autoCert != nil {
		cfg.NextProtos = append(cfg.NextProtos, "acme-tls/1")
	}
	return cfg
}

func (m *TLSManager) GetAutocertManager() *autocert.Manager {
	return m.autoCert
}
