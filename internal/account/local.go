package account

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

const (
	DefaultResetTTL  = 15 * time.Minute
	maxResetAttempts = 5
)

type resetCode struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// Local authenticates against the users kept in the history store and
// hands reset codes back to the caller.
type Local struct {
	store *history.Store

	mu    sync.Mutex
	codes map[string]*resetCode

	ttl     time.Duration
	now     func() time.Time
	newCode func() (string, error)
}

var _ Authenticator = (*Local)(nil)

type LocalOption func(*Local)

func WithResetTTL(ttl time.Duration) LocalOption {
	return func(l *Local) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithLocalClock(now func() time.Time) LocalOption {
	return func(l *Local) { l.now = now }
}

func WithCodeGenerator(gen func() (string, error)) LocalOption {
	return func(l *Local) { l.newCode = gen }
}

func NewLocal(store *history.Store, opts ...LocalOption) *Local {
	l := &Local{
		store:   store,
		codes:   make(map[string]*resetCode),
		ttl:     DefaultResetTTL,
		now:     time.Now,
		newCode: sixDigitCode,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Login(ctx context.Context, email, password string) (*Identity, error) {
	user, err := l.store.Authenticate(ctx, email, password)
	if err != nil {
		logger.Warn("Login rejected", zap.String("email", utils.MaskEmail(email)))
		return nil, err
	}
	return &Identity{User: *user}, nil
}

func (l *Local) Signup(ctx context.Context, name, email, password string) (*Identity, error) {
	user, err := l.store.AddUser(ctx, history.NewUser{Name: name, Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return &Identity{User: *user}, nil
}

func (l *Local) RequestReset(ctx context.Context, email string) (*ResetTicket, error) {
	user, err := l.store.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	code, err := l.newCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reset code: %w", err)
	}

	l.mu.Lock()
	l.codes[user.Email] = &resetCode{code: code, expiresAt: l.now().Add(l.ttl)}
	l.mu.Unlock()

	logger.Info("Password reset requested", zap.String("email", utils.MaskEmail(user.Email)))
	return &ResetTicket{MaskedEmail: utils.MaskEmail(user.Email), UserName: user.Name, Code: code}, nil
}

func (l *Local) VerifyReset(ctx context.Context, email, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(email, code)
}

func (l *Local) FinalizeReset(ctx context.Context, email, newPassword, code string) error {
	l.mu.Lock()
	if err := l.checkLocked(email, code); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	if err := l.store.SetPassword(ctx, email, newPassword); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.codes, normalize(email))
	l.mu.Unlock()

	logger.Info("Password reset completed", zap.String("email", utils.MaskEmail(email)))
	return nil
}

func (l *Local) checkLocked(email, code string) error {
	key := normalize(email)
	rc, ok := l.codes[key]
	if !ok {
		return scanerr.New(scanerr.KindValidation, "No reset was requested for this account.")
	}
	if !l.now().Before(rc.expiresAt) {
		delete(l.codes, key)
		return scanerr.New(scanerr.KindValidation, "The reset code has expired. Please request a new one.")
	}
	if subtle.ConstantTimeCompare([]byte(rc.code), []byte(strings.TrimSpace(code))) != 1 {
		rc.attempts++
		if rc.attempts >= maxResetAttempts {
			delete(l.codes, key)
		}
		return scanerr.New(scanerr.KindValidation, "The reset code is incorrect.")
	}
	return nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
