package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vitalform/survey-key-escrow/interfaces"
)

// Header constants for admin-authenticated requests.
const (
	// AdminIDHeader carries the administrator's identifier.
	AdminIDHeader = "X-Admin-ID"

	// AdminSignatureHeader carries a base64 ECDSA signature over the
	// request path concatenated with the request body.
	AdminSignatureHeader = "X-Admin-Signature"
)

type adminCtxKey struct{}

// AdminAuth verifies administrator signatures on approval and execution
// requests.
//
// Each administrator holds an ECDSA P-256 keypair. Public keys are
// registered at startup; requests must carry the admin's ID and a
// signature over the URL path plus body. The signature binds the request
// content, so a captured header pair cannot be replayed against a
// different request.
type AdminAuth struct {
	log  *slog.Logger
	keys map[string][]byte // admin ID to public key PEM
}

// NewAdminAuth creates an authenticator for the given set of registered
// administrator public keys.
func NewAdminAuth(log *slog.Logger, adminPubKeys map[string][]byte) *AdminAuth {
	return &AdminAuth{
		log:  log,
		keys: adminPubKeys,
	}
}

// Middleware rejects requests that lack a valid admin signature and stores
// the verified admin identity on the request context for the handler.
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, ok := a.verifyRequest(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), adminCtxKey{}, interfaces.ActorID(adminID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminFrom returns the admin identity verified by Middleware.
func AdminFrom(ctx context.Context) (interfaces.ActorID, bool) {
	actor, ok := ctx.Value(adminCtxKey{}).(interfaces.ActorID)
	return actor, ok
}

// verifyRequest checks that the request is signed by a registered admin.
//
// The function verifies that:
//  1. The admin is registered (has a known public key)
//  2. The request carries a valid signature created with the admin's
//     private key over the URL path and body
func (a *AdminAuth) verifyRequest(r *http.Request) (string, bool) {
	adminID := r.Header.Get(AdminIDHeader)
	adminSignatureStr := r.Header.Get(AdminSignatureHeader)

	if adminID == "" || adminSignatureStr == "" {
		return "", false
	}

	pubKeyPEM, exists := a.keys[adminID]
	if !exists {
		a.log.Warn("Authentication failed: unknown admin ID", "adminID", adminID)
		return adminID, false
	}

	adminSignature, err := base64.StdEncoding.DecodeString(adminSignatureStr)
	if err != nil {
		a.log.Warn("Authentication failed: invalid signature encoding", "adminID", adminID, "err", err)
		return adminID, false
	}

	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		a.log.Error("Failed to decode admin public key PEM", "adminID", adminID)
		return adminID, false
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		a.log.Error("Failed to parse admin public key", "adminID", adminID, "err", err)
		return adminID, false
	}

	ecdsaPubKey, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		a.log.Error("Admin public key is not an ECDSA key", "adminID", adminID)
		return adminID, false
	}

	// Read the body without consuming it for the handler.
	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			a.log.Error("Failed to read request body", "err", err)
			return adminID, false
		}

		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	message := r.URL.Path
	if len(bodyBytes) > 0 {
		message += string(bodyBytes)
	}

	hash := sha256.Sum256([]byte(message))

	if !ecdsa.VerifyASN1(ecdsaPubKey, hash[:], adminSignature) {
		a.log.Warn("Authentication failed: invalid signature", "adminID", adminID)
		return adminID, false
	}

	a.log.Debug("Admin authentication successful", "adminID", adminID)
	return adminID, true
}

// CreateSignedAdminRequest builds an HTTP request carrying the admin ID
// and a signature over the URL path plus body, matching what AdminAuth
// verifies on the server side.
func CreateSignedAdminRequest(method, reqUrl string, body []byte, adminID string, privateKey *ecdsa.PrivateKey) (*http.Request, error) {
	var req *http.Request
	var err error

	if body != nil {
		req, err = http.NewRequest(method, reqUrl, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, reqUrl, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
	}

	// Only the path is signed, not the full URL.
	parsedURL, err := url.Parse(reqUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	req.Header.Set(AdminIDHeader, adminID)

	message := parsedURL.Path
	if body != nil {
		message += string(body)
	}

	hash := sha256.Sum256([]byte(message))

	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	req.Header.Set(AdminSignatureHeader, base64.StdEncoding.EncodeToString(signature))

	return req, nil
}

// LoadAdminKeys loads admin public keys from a JSON file.
//
// The JSON file should contain an "admins" array with entries that include:
//   - "id": A unique identifier for the admin
//   - "pubkey": The admin's public key in PEM format
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var data struct {
		Admins []struct {
			ID     string `json:"id"`
			PubKey string `json:"pubkey"`
		} `json:"admins"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	result := make(map[string][]byte)
	for _, admin := range data.Admins {
		block, _ := pem.Decode([]byte(admin.PubKey))
		if block == nil {
			return nil, fmt.Errorf("invalid PEM data for admin %s", admin.ID)
		}

		_, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("invalid public key for admin %s: %w", admin.ID, err)
		}

		result[admin.ID] = []byte(admin.PubKey)
	}

	return result, nil
}

// GenerateAdminKeyPair generates a new ECDSA P-256 key pair for an
// administrator.
//
// Returns the private key PEM (kept by the admin) and the public key PEM
// (registered with the service).
func GenerateAdminKeyPair() (string, string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})

	return string(privateKeyPEM), string(publicKeyPEM), nil
}

// ParsePrivateKey parses an ECDSA private key from PEM format.
func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}

	return privateKey, nil
}

// ComputeFingerprint computes a hex SHA-256 fingerprint for a PEM-encoded
// public key, for operators comparing keys out of band.
func ComputeFingerprint(publicKeyPEM []byte) string {
	h := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(h[:])
}
