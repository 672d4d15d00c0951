package runtime

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// ensureTLSKeys writes a self-signed certificate and key to the configured
// paths when TLS is configured but neither file exists yet.
func (r *Runtime) ensureTLSKeys() error {
	certPath, keyPath := r.cfg.HTTP.TLS.Cert, r.cfg.HTTP.TLS.Key
	if certPath == "" || keyPath == "" {
		return nil
	}
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	switch {
	case certErr == nil && keyErr == nil:
		return nil
	case errors.Is(certErr, os.ErrNotExist) && errors.Is(keyErr, os.ErrNotExist):
	default:
		return fmt.Errorf("tls cert and key must both exist or both be missing (cert: %v, key: %v)", certErr, keyErr)
	}

	r.logger.Info("Generating self-signed TLS certificate", "cert", certPath, "key", keyPath)
	return generateSelfSigned(certPath, keyPath, r.cfg.HTTP.Binding, time.Now())
}

func generateSelfSigned(certPath, keyPath, binding string, now time.Time) error {
	for _, p := range []string{certPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate private key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"hmacfs"},
			CommonName:   "hmacfsd",
		},
		NotBefore: now,
		NotAfter:  now.AddDate(10, 0, 0),

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	template.DNSNames, template.IPAddresses = certHosts(binding)

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", certPath, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", keyPath, err)
	}
	return nil
}

// certHosts always covers localhost and adds the binding's host.
func certHosts(binding string) ([]string, []net.IP) {
	dnsNames := []string{"localhost"}
	ips := []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}

	host, _, err := net.SplitHostPort(binding)
	if err != nil {
		host = binding
	}
	if host == "" {
		return dnsNames, ips
	}
	if ip := net.ParseIP(host); ip != nil {
		if !ip.IsUnspecified() && !ip.IsLoopback() {
			ips = append(ips, ip)
		}
	} else if host != "localhost" {
		dnsNames = append(dnsNames, host)
	}
	return dnsNames, ips
}
