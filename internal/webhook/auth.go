// Package webhook verifies and interprets inbound platform webhooks.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// SignatureHeader is the HTTP header containing the HMAC signature.
	SignatureHeader = "X-Stillwater-Signature"

	// TimestampHeader is the HTTP header containing the request timestamp.
	TimestampHeader = "X-Stillwater-Timestamp"

	// NonceHeader is the HTTP header containing the unique request nonce.
	NonceHeader = "X-Stillwater-Nonce"

	// DefaultMaxAge is the default maximum age for webhook requests.
	DefaultMaxAge = 5 * time.Minute

	// NonceExpiry is how long nonces are remembered for replay prevention.
	NonceExpiry = 10 * time.Minute

	signaturePrefix = "sha256="
)

var (
	ErrMissingSignature  = errors.New("missing signature header")
	ErrInvalidSignature  = errors.New("invalid signature format")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrMissingTimestamp  = errors.New("missing timestamp header")
	ErrInvalidTimestamp  = errors.New("invalid timestamp format")
	ErrExpiredRequest    = errors.New("request expired")
	ErrFutureRequest     = errors.New("request timestamp in future")
	ErrMissingNonce      = errors.New("missing nonce header")
	ErrReplayedNonce     = errors.New("replayed nonce detected")
)

// Verifier verifies HMAC-SHA256 signatures on incoming webhook requests.
type Verifier struct {
	secret     []byte
	maxAge     time.Duration
	nonceStore *NonceStore
	now        func() time.Time
}

// NewVerifier creates a webhook signature verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret:     []byte(secret),
		maxAge:     DefaultMaxAge,
		nonceStore: NewNonceStore(NonceExpiry),
		now:        time.Now,
	}
}

// WithMaxAge sets the maximum age for webhook requests.
func (v *Verifier) WithMaxAge(maxAge time.Duration) *Verifier {
	if maxAge > 0 {
		v.maxAge = maxAge
	}
	return v
}

// VerifySignature checks the payload HMAC using a timing-safe comparison.
func (v *Verifier) VerifySignature(payload []byte, signature string) error {
	if signature == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrInvalidSignature
	}

	providedBytes, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if subtle.ConstantTimeCompare(providedBytes, mac.Sum(nil)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// VerifyTimestamp checks that the request timestamp is within bounds.
func (v *Verifier) VerifyTimestamp(timestampStr string) error {
	if timestampStr == "" {
		return ErrMissingTimestamp
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	requestTime := time.Unix(timestamp, 0)
	now := v.now()
	if now.Sub(requestTime) > v.maxAge {
		return ErrExpiredRequest
	}
	if requestTime.Sub(now) > time.Minute {
		return ErrFutureRequest
	}
	return nil
}

// VerifyNonce rejects previously seen nonces and records new ones.
func (v *Verifier) VerifyNonce(nonce string) error {
	if nonce == "" {
		return ErrMissingNonce
	}
	if v.nonceStore.HasSeen(nonce) {
		return ErrReplayedNonce
	}
	v.nonceStore.Record(nonce)
	return nil
}

// VerifyRequest runs timestamp, signature, and nonce checks in order.
func (v *Verifier) VerifyRequest(payload []byte, signature, timestamp, nonce string) error {
	if err := v.VerifyTimestamp(timestamp); err != nil {
		return err
	}
	if err := v.VerifySignature(payload, signature); err != nil {
		return err
	}
	return v.VerifyNonce(nonce)
}

// NonceStore tracks seen nonces for replay prevention.
type NonceStore struct {
	mu      sync.RWMutex
	nonces  map[string]time.Time
	expiry  time.Duration
	now     func() time.Time
	cleanup time.Time
}

// NewNonceStore creates a nonce store with the given expiry window.
func NewNonceStore(expiry time.Duration) *NonceStore {
	return &NonceStore{
		nonces: make(map[string]time.Time),
		expiry: expiry,
		now:    time.Now,
	}
}

// HasSeen reports whether the nonce was recorded within the expiry window.
func (s *NonceStore) HasSeen(nonce string) bool {
	s.mu.RLock()
	_, exists := s.nonces[nonce]
	s.mu.RUnlock()
	return exists
}

// Record marks a nonce as seen and periodically drops expired entries.
func (s *NonceStore) Record(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.nonces[nonce] = now

	if now.Sub(s.cleanup) > time.Minute {
		for seen, recorded := range s.nonces {
			if now.Sub(recorded) > s.expiry {
				delete(s.nonces, seen)
			}
		}
		s.cleanup = now
	}
}

// Middleware rejects webhook requests that fail verification before they
// reach the handler.
type Middleware struct {
	verifier *Verifier
	onError  func(w http.ResponseWriter, err error)
}

// NewMiddleware creates webhook authentication middleware.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{
		verifier: verifier,
		onError:  defaultErrorHandler,
	}
}

// Handler wraps next with signature verification. The request body is
// restored so the handler can read it again.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			m.onError(w, fmt.Errorf("failed to read body: %w", err))
			return
		}

		err = m.verifier.VerifyRequest(
			body,
			r.Header.Get(SignatureHeader),
			r.Header.Get(TimestampHeader),
			r.Header.Get(NonceHeader),
		)
		if err != nil {
			m.onError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func defaultErrorHandler(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, ErrMissingSignature),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, ErrMissingTimestamp),
		errors.Is(err, ErrInvalidTimestamp),
		errors.Is(err, ErrExpiredRequest),
		errors.Is(err, ErrFutureRequest),
		errors.Is(err, ErrMissingNonce),
		errors.Is(err, ErrReplayedNonce):
		w.WriteHeader(http.StatusUnauthorized)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	fmt.Fprintf(w, `{"error":%q}`, err.Error())
}

// Sign creates a signature for a payload, for tests and outbound hooks.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
