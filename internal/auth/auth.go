// Package auth holds the credential material and the RSA-PSS request signer.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rickgao/kalshi-trade/internal/errs"
)

// Environment selects which exchange deployment requests go to.
type Environment string

const (
	EnvDemo       Environment = "demo"
	EnvProduction Environment = "production"
)

// ParseEnvironment maps a configuration string to an Environment.
// Anything other than demo/production is a configuration error.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "demo":
		return EnvDemo, nil
	case "production", "prod":
		return EnvProduction, nil
	case "":
		return "", errs.Configuration("environment is required")
	default:
		return "", errs.Configuration("environment %q is not recognized (want demo or production)", s)
	}
}

// Credentials is the account key identifier, its private signing key and the
// environment it belongs to. It is read-only after loading.
type Credentials struct {
	KeyID       string          `json:"-" yaml:"-"`
	PrivateKey  *rsa.PrivateKey `json:"-" yaml:"-"`
	Environment Environment     `json:"-" yaml:"-"`
}

// LogValue keeps the private key out of structured logs.
func (c *Credentials) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("key_id", c.KeyID),
		slog.String("environment", string(c.Environment)),
	)
}

// String never includes key material.
func (c *Credentials) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Credentials{key_id=%s environment=%s}", c.KeyID, c.Environment)
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string, env Environment) (*Credentials, error) {
	if keyID == "" {
		return nil, errs.Configuration("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, errs.Configuration("private key path is required")
	}
	if env != EnvDemo && env != EnvProduction {
		return nil, errs.Configuration("environment %q is not recognized", env)
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:       keyID,
		PrivateKey:  privateKey,
		Environment: env,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration,
			errs.WithMessage("read key file"),
			errs.WithCause(err),
		)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PEM encoded RSA key, PKCS#8 first, PKCS#1 second.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.New(errs.KindSigning, errs.WithMessage("failed to decode PEM block"))
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errs.New(errs.KindSigning, errs.WithMessage("key is not an RSA private key"))
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errs.New(errs.KindSigning,
			errs.WithMessage("parse private key"),
			errs.WithCause(err),
		)
	}

	return rsaKey, nil
}
