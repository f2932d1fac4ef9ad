// Package auth signs feed vendor requests with RSA-PSS signatures.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Header names carried by signed requests.
const (
	HeaderKey       = "X-Feed-Access-Key"
	HeaderTimestamp = "X-Feed-Access-Timestamp"
	HeaderSignature = "X-Feed-Access-Signature"
)

// Credentials holds the API key and private key for signing requests.
type Credentials struct {
	KeyID      string          // API key ID issued by the vendor
	PrivateKey *rsa.PrivateKey // RSA private key for signing
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, fmt.Errorf("API key ID is required")
	}
	if privateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	// Try PKCS#8 first (newer format)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	// Fall back to PKCS#1 (older format)
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return rsaKey, nil
}

// SignRequest returns the authentication headers for a request.
func (c *Credentials) SignRequest(method, path string) (http.Header, error) {
	return c.signAt(time.Now(), method, path)
}

func (c *Credentials) signAt(now time.Time, method, path string) (http.Header, error) {
	timestampMs := now.UnixMilli()

	signature, err := c.generateSignature(timestampMs, method, path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderKey, c.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, signature)
	return h, nil
}

// Apply signs req in place using its method and URL path.
func (c *Credentials) Apply(req *http.Request) error {
	h, err := c.SignRequest(req.Method, req.URL.Path)
	if err != nil {
		return err
	}
	for k, v := range h {
		req.Header[k] = v
	}
	return nil
}

// generateSignature creates an RSA-PSS signature for the given request.
// Message format: timestamp_ms + method + path
func (c *Credentials) generateSignature(timestampMs int64, method, path string) (string, error) {
	hashed := sha256.Sum256([]byte(signingMessage(timestampMs, method, path)))

	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(signature), nil
}

func signingMessage(timestampMs int64, method, path string) string {
	return strconv.FormatInt(timestampMs, 10) + method + path
}

// Verify checks headers produced by SignRequest against pub.
func Verify(pub *rsa.PublicKey, h http.Header, method, path string) error {
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(h.Get(HeaderSignature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	hashed := sha256.Sum256([]byte(signingMessage(ts, method, path)))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}
