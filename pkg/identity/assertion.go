// Package identity issues and verifies operator assertions: short-lived
// signed statements that a human performed the fleet re-validation a
// contained controller demands before unlocking. The containment
// controller consumes the verifier side and never re-derives trust on
// its own.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meshplane/core/pkg/crypto"
)

const (
	assertionIssuer   = "meshplane/identity"
	assertionAudience = "meshplane.containment"
	assertionPurpose  = "operator-assertion"
)

// DefaultAssertionTTL bounds how long a re-validation assertion stays
// usable. Stale assertions must not unlock a fleet contained after they
// were issued.
const DefaultAssertionTTL = 15 * time.Minute

var (
	// ErrAssertionInvalid covers signature, issuer, and audience failures.
	ErrAssertionInvalid = errors.New("operator assertion invalid")
	// ErrAssertionExpired reports an assertion past its lifetime.
	ErrAssertionExpired = errors.New("operator assertion expired")
)

// AssertionClaims extends the registered JWT claims with the operator
// and the scope of the re-validation performed.
type AssertionClaims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
	Scope    string `json:"scope,omitempty"`
}

// AssertionManager signs and verifies operator assertions with an
// HMAC key derived from the fleet root keyring. Every node holding the
// root key can verify assertions minted by any other.
type AssertionManager struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// AssertionOption configures an AssertionManager.
type AssertionOption func(*AssertionManager)

// WithAssertionTTL overrides the default assertion lifetime.
func WithAssertionTTL(d time.Duration) AssertionOption {
	return func(m *AssertionManager) { m.ttl = d }
}

// WithNow injects a time source for tests.
func WithNow(now func() time.Time) AssertionOption {
	return func(m *AssertionManager) { m.now = now }
}

// NewAssertionManager derives the assertion key from the fleet keyring.
func NewAssertionManager(kr *crypto.Keyring, opts ...AssertionOption) (*AssertionManager, error) {
	key, err := kr.Derive(assertionPurpose)
	if err != nil {
		return nil, fmt.Errorf("derive assertion key: %w", err)
	}
	m := &AssertionManager{
		key: key,
		ttl: DefaultAssertionTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Issue mints a signed assertion naming the operator who performed the
// re-validation and what it covered.
func (m *AssertionManager) Issue(operator, scope string) (string, error) {
	if operator == "" {
		return "", fmt.Errorf("%w: empty operator", ErrAssertionInvalid)
	}
	now := m.now().UTC()
	claims := AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    assertionIssuer,
			Audience:  jwt.ClaimStrings{assertionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Operator: operator,
		Scope:    scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign assertion: %w", err)
	}
	return signed, nil
}

// Verify checks the assertion's signature, issuer, audience, and expiry
// and returns its claims.
func (m *AssertionManager) Verify(assertion string) (*AssertionClaims, error) {
	claims := &AssertionClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return m.key, nil
		},
		jwt.WithIssuer(assertionIssuer),
		jwt.WithAudience(assertionAudience),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrAssertionExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
	}
	if !token.Valid || claims.Operator == "" {
		return nil, ErrAssertionInvalid
	}
	return claims, nil
}

// VerifyAssertion adapts Verify to the containment controller's
// verifier contract.
func (m *AssertionManager) VerifyAssertion(assertion string) error {
	_, err := m.Verify(assertion)
	return err
}
