package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/kv"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

const (
	usersKey       = "cardioscan:users"
	historyPrefix  = "cardioscan:history:"
	correctionsKey = "cardioscan:corrections"

	DefaultCorrectionCap = 10
)

// Store keeps users, per-user scan histories and the correction-example
// feed in a kv.Store. Read-modify-write cycles are serialised per process.
type Store struct {
	kv            kv.Store
	mu            sync.Mutex
	correctionCap int
	cost          int
	now           func() time.Time
}

type Option func(*Store)

func WithCorrectionCap(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.correctionCap = n
		}
	}
}

// WithCredentialCost sets the bcrypt cost used for new credential tokens.
func WithCredentialCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(store kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:            store,
		correctionCap: DefaultCorrectionCap,
		cost:          bcrypt.DefaultCost,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type AdminSeed struct {
	Email    string
	Name     string
	Password string
}

type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
}

// Initialize seeds the default administrator when no users exist yet.
func (s *Store) Initialize(ctx context.Context, admin AdminSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	token, err := s.credentialToken(admin.Password)
	if err != nil {
		return err
	}
	users = append(users, models.StoredUser{
		User:            models.User{Email: normalizeEmail(admin.Email), Name: admin.Name, Role: models.RoleAdmin},
		CredentialToken: token,
	})
	if err := s.saveJSON(ctx, usersKey, users); err != nil {
		return err
	}

	logger.Info("Default admin user created", zap.String("email", utils.MaskEmail(admin.Email)))
	return nil
}

func (s *Store) AddUser(ctx context.Context, u NewUser) (*models.User, error) {
	email := normalizeEmail(u.Email)
	if email == "" || strings.TrimSpace(u.Name) == "" {
		return nil, scanerr.New(scanerr.KindValidation, "Name and email are required.")
	}
	if u.Password == "" {
		return nil, scanerr.New(scanerr.KindValidation, "Password is required.")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	if findUser(users, email) >= 0 {
		return nil, scanerr.New(scanerr.KindConflict, "A user with this email already exists.")
	}

	token, err := s.credentialToken(u.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{Email: email, Name: strings.TrimSpace(u.Name), Role: u.Role}
	users = append(users, models.StoredUser{User: user, CredentialToken: token})
	if err := s.saveJSON(ctx, usersKey, users); err != nil {
		return nil, err
	}

	logger.Info("User added", zap.String("email", utils.MaskEmail(email)), zap.String("role", string(u.Role)))
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, email string) (*models.User, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	i := findUser(users, normalizeEmail(email))
	if i < 0 {
		return nil, scanerr.New(scanerr.KindNotFound, "User not found.")
	}
	u := users[i].User
	return &u, nil
}

func (s *Store) Users(ctx context.Context) ([]models.User, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.User, len(users))
	for i, u := range users {
		out[i] = u.User
	}
	return out, nil
}

// Authenticate checks a password against the stored credential token.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	i := findUser(users, normalizeEmail(email))
	if i < 0 {
		return nil, scanerr.New(scanerr.KindUnauthorized, "Invalid email or password.")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(users[i].CredentialToken), []byte(password)); err != nil {
		return nil, scanerr.New(scanerr.KindUnauthorized, "Invalid email or password.")
	}
	u := users[i].User
	return &u, nil
}

func (s *Store) SetPassword(ctx context.Context, email, password string) error {
	if password == "" {
		return scanerr.New(scanerr.KindValidation, "Password is required.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	i := findUser(users, normalizeEmail(email))
	if i < 0 {
		return scanerr.New(scanerr.KindNotFound, "User not found.")
	}
	token, err := s.credentialToken(password)
	if err != nil {
		return err
	}
	users[i].CredentialToken = token
	return s.saveJSON(ctx, usersKey, users)
}

// DeleteUser removes the user and their history together.
func (s *Store) DeleteUser(ctx context.Context, email string) error {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return err
	}
	i := findUser(users, email)
	if i < 0 {
		return scanerr.New(scanerr.KindNotFound, "User not found.")
	}
	users = append(users[:i], users[i+1:]...)

	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("failed to marshal users: %w", err)
	}
	var batch kv.Batch
	batch.Set(usersKey, string(data))
	batch.Remove(historyKey(email))
	if err := s.kv.Apply(ctx, batch); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	logger.Info("User deleted", zap.String("email", utils.MaskEmail(email)))
	return nil
}

// ListUsersWithHistory returns every user except exclude, each with their
// history. Credential tokens are not included.
func (s *Store) ListUsersWithHistory(ctx context.Context, exclude string) ([]models.UserWithHistory, error) {
	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	exclude = normalizeEmail(exclude)

	out := make([]models.UserWithHistory, 0, len(users))
	for _, u := range users {
		if u.Email == exclude {
			continue
		}
		h, err := s.History(ctx, u.Email)
		if err != nil {
			return nil, err
		}
		out = append(out, models.UserWithHistory{User: u.User, History: h})
	}
	return out, nil
}

// History returns the user's records, newest first.
func (s *Store) History(ctx context.Context, email string) ([]models.ScanRecord, error) {
	var records []models.ScanRecord
	if _, err := s.loadJSON(ctx, historyKey(normalizeEmail(email)), &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.ScanRecord{}
	}
	return records, nil
}

func (s *Store) Get(ctx context.Context, email, scanID string) (*models.ScanRecord, error) {
	records, err := s.History(ctx, email)
	if err != nil {
		return nil, err
	}
	if i := findRecord(records, scanID); i >= 0 {
		return &records[i], nil
	}
	return nil, scanerr.New(scanerr.KindNotFound, "Scan not found.")
}

// Append prepends record to the user's history.
func (s *Store) Append(ctx context.Context, email string, record models.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(normalizeEmail(email))
	records, err := s.historyLocked(ctx, key)
	if err != nil {
		return err
	}
	records = append([]models.ScanRecord{record}, records...)
	if err := s.saveJSON(ctx, key, records); err != nil {
		return err
	}

	metrics.HistoryRecords.WithLabelValues("append").Inc()
	logger.Debug("Scan appended to history",
		zap.String("user", utils.MaskEmail(email)),
		zap.String("scan_id", record.ScanID),
		zap.Int("records", len(records)),
	)
	return nil
}

// Update replaces the record with the same ScanID. It reports false and
// changes nothing when no such record exists.
func (s *Store) Update(ctx context.Context, email string, record models.ScanRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(normalizeEmail(email))
	records, err := s.historyLocked(ctx, key)
	if err != nil {
		return false, err
	}
	i := findRecord(records, record.ScanID)
	if i < 0 {
		return false, nil
	}
	records[i] = record
	if err := s.saveJSON(ctx, key, records); err != nil {
		return false, err
	}

	metrics.HistoryRecords.WithLabelValues("update").Inc()
	return true, nil
}

// Delete removes the record with scanID. It reports false when absent.
func (s *Store) Delete(ctx context.Context, email, scanID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey(normalizeEmail(email))
	records, err := s.historyLocked(ctx, key)
	if err != nil {
		return false, err
	}
	i := findRecord(records, scanID)
	if i < 0 {
		return false, nil
	}
	records = append(records[:i], records[i+1:]...)
	if err := s.saveJSON(ctx, key, records); err != nil {
		return false, err
	}

	metrics.HistoryRecords.WithLabelValues("delete").Inc()
	return true, nil
}

func (s *Store) Clear(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(ctx, historyKey(normalizeEmail(email))); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	metrics.HistoryRecords.WithLabelValues("clear").Inc()
	return nil
}

// ClearAll removes every user's history. Users are kept.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.kv.Keys(ctx, historyPrefix)
	if err != nil {
		return err
	}
	var batch kv.Batch
	for _, k := range keys {
		batch.Remove(k)
	}
	if err := s.kv.Apply(ctx, batch); err != nil {
		return fmt.Errorf("failed to clear all history: %w", err)
	}

	metrics.HistoryRecords.WithLabelValues("clear").Inc()
	logger.Info("All scan history cleared", zap.Int("users", len(keys)))
	return nil
}

func (s *Store) historyLocked(ctx context.Context, key string) ([]models.ScanRecord, error) {
	var records []models.ScanRecord
	if _, err := s.loadJSON(ctx, key, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) loadUsers(ctx context.Context) ([]models.StoredUser, error) {
	var users []models.StoredUser
	if _, err := s.loadJSON(ctx, usersKey, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) loadJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) credentialToken(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", scanerr.New(scanerr.KindValidation, "Password is too long.")
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func historyKey(email string) string {
	return historyPrefix + email
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func findUser(users []models.StoredUser, email string) int {
	for i, u := range users {
		if normalizeEmail(u.Email) == email {
			return i
		}
	}
	return -1
}

func findRecord(records []models.ScanRecord, scanID string) int {
	for i, r := range records {
		if r.ScanID == scanID {
			return i
		}
	}
	return -1
}
