package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrMTLSRequired is returned when mTLS security is required but not configured
	ErrMTLSRequired = errors.New("mtls security required")
	// ErrCAParsingFailed is returned when CA certificate cannot be parsed
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
)

// TLSFiles locates the client certificate material for NATS mTLS.
// Relative paths are resolved against CertDir.
type TLSFiles struct {
	CertDir    string `json:"cert_dir,omitempty"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file"`
	ServerName string `json:"server_name,omitempty"`
}

func (f *TLSFiles) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || f.CertDir == "" {
		return path
	}

	return filepath.Join(f.CertDir, path)
}

// TLSConfig builds a tls.Config for connecting to NATS using mTLS.
func TLSConfig(files *TLSFiles) (*tls.Config, error) {
	if files == nil || files.CertFile == "" || files.KeyFile == "" || files.CAFile == "" {
		return nil, ErrMTLSRequired
	}

	cert, err := tls.LoadX509KeyPair(files.resolve(files.CertFile), files.resolve(files.KeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(files.resolve(files.CAFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, ErrCAParsingFailed
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   files.ServerName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
