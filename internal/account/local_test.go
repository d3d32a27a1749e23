package account

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/kv"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newLocal(t *testing.T) (*Local, *fakeClock) {
	t.Helper()
	store := history.New(kv.NewMemory(), history.WithCredentialCost(bcrypt.MinCost))
	if _, err := store.AddUser(context.Background(), history.NewUser{Name: "Ann", Email: "ann@example.com", Password: "old"}); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	l := NewLocal(store,
		WithLocalClock(clock.Now),
		WithCodeGenerator(func() (string, error) { return "424242", nil }),
	)
	return l, clock
}

func TestLocal_LoginSignup(t *testing.T) {
	ctx := context.Background()
	l, _ := newLocal(t)

	id, err := l.Login(ctx, "ANN@example.com", "old")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if id.User.Email != "ann@example.com" || id.Token != "" {
		t.Errorf("Login() = %+v", id)
	}
	if _, err := l.Login(ctx, "ann@example.com", "bad"); !errors.Is(err, scanerr.ErrUnauthorized) {
		t.Errorf("Login(bad) error = %v", err)
	}

	if _, err := l.Signup(ctx, "Bob", "bob@example.com", "pw"); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if _, err := l.Signup(ctx, "Bob", "bob@example.com", "pw"); !errors.Is(err, scanerr.ErrConflict) {
		t.Errorf("Signup(duplicate) error = %v", err)
	}
}

func TestLocal_ResetFlow(t *testing.T) {
	ctx := context.Background()
	l, _ := newLocal(t)

	ticket, err := l.RequestReset(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	if ticket.Code != "424242" || ticket.UserName != "Ann" || ticket.MaskedEmail != "a**@example.com" {
		t.Errorf("ticket = %+v", ticket)
	}

	if err := l.VerifyReset(ctx, "ann@example.com", "000000"); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("VerifyReset(wrong) error = %v", err)
	}
	if err := l.VerifyReset(ctx, "ann@example.com", "424242"); err != nil {
		t.Fatalf("VerifyReset() error = %v", err)
	}
	if err := l.FinalizeReset(ctx, "ann@example.com", "new", "424242"); err != nil {
		t.Fatalf("FinalizeReset() error = %v", err)
	}
	if _, err := l.Login(ctx, "ann@example.com", "new"); err != nil {
		t.Errorf("Login(new) error = %v", err)
	}
	if err := l.VerifyReset(ctx, "ann@example.com", "424242"); err == nil {
		t.Errorf("code still valid after FinalizeReset")
	}
}

func TestLocal_ResetCodeExpires(t *testing.T) {
	ctx := context.Background()
	l, clock := newLocal(t)
	if _, err := l.RequestReset(ctx, "ann@example.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	clock.t = clock.t.Add(DefaultResetTTL)
	if err := l.FinalizeReset(ctx, "ann@example.com", "new", "424242"); !errors.Is(err, scanerr.ErrValidation) {
		t.Errorf("FinalizeReset() after expiry error = %v", err)
	}
}

func TestLocal_ResetCodeBurnsAfterAttempts(t *testing.T) {
	ctx := context.Background()
	l, _ := newLocal(t)
	_, _ = l.RequestReset(ctx, "ann@example.com")
	for i := 0; i < maxResetAttempts; i++ {
		_ = l.VerifyReset(ctx, "ann@example.com", "111111")
	}
	if err := l.VerifyReset(ctx, "ann@example.com", "424242"); err == nil {
		t.Errorf("code accepted after too many attempts")
	}
}

func TestLocal_RequestResetUnknownUser(t *testing.T) {
	l, _ := newLocal(t)
	if _, err := l.RequestReset(context.Background(), "nobody@example.com"); !errors.Is(err, scanerr.ErrNotFound) {
		t.Errorf("RequestReset() error = %v, want not found", err)
	}
}

func TestSixDigitCode(t *testing.T) {
	for i := 0; i < 20; i++ {
		code, err := sixDigitCode()
		if err != nil {
			t.Fatalf("sixDigitCode() error = %v", err)
		}
		if len(code) != 6 {
			t.Errorf("code %q is not six digits", code)
		}
	}
}
