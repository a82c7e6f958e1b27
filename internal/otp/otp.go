// Package otp generates and verifies one-time passcodes.  Records live in a
// TTL-capable store keyed by email; the attempt counter is incremented
// atomically by the store so concurrent guesses cannot both see a free slot.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/metrics"
)

// Length bounds accepted by Generate.
const (
	MinLength = 4
	MaxLength = 10
)

// Verification failures.  All three are terminal for the presented input;
// NotFoundOrExpired and MaxAttemptsExceeded mean a new passcode is needed.
var (
	ErrNotFoundOrExpired   = errors.New("otp not found or expired")
	ErrMaxAttemptsExceeded = errors.New("otp max attempts exceeded")
	ErrMismatch            = errors.New("otp mismatch")
)

// Record is what the store keeps per email.
type Record struct {
	Code      string
	CreatedAt time.Time
	Attempts  int
}

// Store is the volatile backing store.  Attempt must increment the counter
// and compare it to max in one atomic step, deleting the record once the
// counter passes max.
type Store interface {
	Save(ctx context.Context, email string, rec Record, ttl time.Duration) error
	// Attempt returns the record after incrementing its counter.  found is
	// false when no record exists; exceeded is true when the counter passed
	// max (the store has already deleted the record).
	Attempt(ctx context.Context, email string, max int) (rec Record, found, exceeded bool, err error)
	// Consume deletes the record only if it still holds code.
	Consume(ctx context.Context, email, code string) error
}

// Result describes a verification outcome.  Remaining is only meaningful on
// ErrMismatch.
type Result struct {
	OK        bool
	Remaining int
}

// Verifier implements generate / store / verify over a Store.
type Verifier struct {
	store       Store
	ttl         time.Duration
	maxAttempts int
	log         *zap.SugaredLogger
	now         func() time.Time
}

// NewVerifier builds a Verifier.  ttl defaults to five minutes and
// maxAttempts to three.
func NewVerifier(store Store, ttl time.Duration, maxAttempts int, log *zap.SugaredLogger) *Verifier {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Verifier{store: store, ttl: ttl, maxAttempts: maxAttempts, log: log, now: time.Now}
}

// Generate returns a uniformly random code of exactly length digits, i.e. in
// [10^(length-1), 10^length - 1].
func Generate(length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", apperr.Validation("otp length %d outside [%d,%d]", length, MinLength, MaxLength)
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length-1)), nil)
	high := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	span := new(big.Int).Sub(high, low)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("otp random: %w", err)
	}
	return n.Add(n, low).String(), nil
}

// Store persists a fresh record for email, replacing any previous one.
func (v *Verifier) Store(ctx context.Context, email, code string) error {
	email = normalize(email)
	if email == "" || code == "" {
		return apperr.Validation("email and code required")
	}
	rec := Record{Code: code, CreatedAt: v.now().UTC(), Attempts: 0}
	if err := v.store.Save(ctx, email, rec, v.ttl); err != nil {
		return fmt.Errorf("otp save: %w", err)
	}
	return nil
}

// Verify checks candidate against the stored code for email.  On success the
// record is consumed.  The last permitted wrong guess also burns the record,
// so the next call reports ErrNotFoundOrExpired.
func (v *Verifier) Verify(ctx context.Context, email, candidate string) (Result, error) {
	email = normalize(email)
	candidate = strings.TrimSpace(candidate)
	if email == "" || candidate == "" {
		metrics.OTPVerifications.WithLabelValues("mismatch").Inc()
		return Result{}, ErrMismatch
	}

	rec, found, exceeded, err := v.store.Attempt(ctx, email, v.maxAttempts)
	if err != nil {
		return Result{}, fmt.Errorf("otp attempt: %w", err)
	}
	if !found {
		metrics.OTPVerifications.WithLabelValues("not_found").Inc()
		return Result{}, ErrNotFoundOrExpired
	}
	if exceeded {
		metrics.OTPVerifications.WithLabelValues("exhausted").Inc()
		v.log.Warnw("otp attempts exhausted", "email", email)
		return Result{}, ErrMaxAttemptsExceeded
	}

	if codesEqual(rec.Code, candidate) {
		if err := v.store.Consume(ctx, email, rec.Code); err != nil {
			return Result{}, fmt.Errorf("otp consume: %w", err)
		}
		metrics.OTPVerifications.WithLabelValues("ok").Inc()
		return Result{OK: true}, nil
	}

	remaining := v.maxAttempts - rec.Attempts
	if remaining <= 0 {
		remaining = 0
		if err := v.store.Consume(ctx, email, rec.Code); err != nil {
			v.log.Errorw("otp burn failed", "email", email, "error", err)
		}
	}
	metrics.OTPVerifications.WithLabelValues("mismatch").Inc()
	return Result{Remaining: remaining}, fmt.Errorf("%w: %d attempts remaining", ErrMismatch, remaining)
}

// codesEqual compares fixed-length digests so the comparison time does not
// depend on where the inputs first differ, nor on their lengths.
func codesEqual(stored, candidate string) bool {
	if stored == "" || candidate == "" {
		return false
	}
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func normalize(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
