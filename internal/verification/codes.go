package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ovaphlow/pitchfork/service-admin-go/internal/cache"
)

// CodeTTL is how long an issued code stays valid.
const CodeTTL = 10 * time.Minute

var (
	// ErrTooFrequent is returned when an unexpired code already exists for
	// the identity.
	ErrTooFrequent = errors.New("verification code already issued")
	// ErrCodeMismatch is returned when the submitted code does not match.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrStoreFailed is returned when the code could not be persisted.
	ErrStoreFailed = errors.New("verification code store failed")
)

// CodeStore issues and consumes single-use email verification codes on the
// shared cache backend. Codes are stored as plain strings so the legacy
// scalar read path applies.
type CodeStore struct {
	store *cache.KeyStore
}

func NewCodeStore(store *cache.KeyStore) *CodeStore {
	return &CodeStore{store: store}
}

// Issue generates a 6-digit code for the email and stores it for CodeTTL.
// While an unexpired code exists, further issuance fails with
// ErrTooFrequent so the mail channel cannot be spammed.
func (c *CodeStore) Issue(ctx context.Context, email string) (string, error) {
	key := cache.EmailCodeKey(email)
	if _, exists := c.store.GetString(ctx, key); exists {
		return "", ErrTooFrequent
	}
	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if !c.store.SetString(ctx, key, code, CodeTTL) {
		return "", ErrStoreFailed
	}
	return code, nil
}

// Consume compares the submitted code against the stored one and deletes
// the entry on match, making every code single-use. An absent or expired
// entry reads as a mismatch.
func (c *CodeStore) Consume(ctx context.Context, email, submitted string) error {
	key := cache.EmailCodeKey(email)
	stored, ok := c.store.GetString(ctx, key)
	if !ok || stored != submitted {
		return ErrCodeMismatch
	}
	c.store.Delete(ctx, key)
	return nil
}

// randomCode draws a uniform 6-digit numeric code from crypto/rand.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
