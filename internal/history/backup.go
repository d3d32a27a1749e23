package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/metrics"
	"github.com/cardioscan/backend/internal/scanerr"
	"github.com/cardioscan/backend/internal/storage/kv"
	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
)

// ExportAll snapshots every user (with credential tokens, never plaintext)
// and every stored history.
func (s *Store) ExportAll(ctx context.Context) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.StoredUser{}
	}

	histories := make(map[string][]models.ScanRecord, len(users))
	for _, u := range users {
		histories[normalizeEmail(u.Email)] = []models.ScanRecord{}
	}

	keys, err := s.kv.Keys(ctx, historyPrefix)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		records, err := s.historyLocked(ctx, key)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []models.ScanRecord{}
		}
		histories[strings.TrimPrefix(key, historyPrefix)] = records
	}

	metrics.BackupOperations.WithLabelValues("export", "success").Inc()
	return &models.Backup{Users: users, Histories: histories}, nil
}

// MarshalBackup renders a snapshot as indented JSON.
func MarshalBackup(b *models.Backup) ([]byte, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backup: %w", err)
	}
	return data, nil
}

func BackupFilename(now time.Time) string {
	return fmt.Sprintf("cardioscan_backup_%s.json", now.UTC().Format("20060102-150405"))
}

// ImportAll replaces all users and histories with the snapshot in data.
// Input that is not an object with a "users" array and a "histories" object
// is rejected before anything is written.
func (s *Store) ImportAll(ctx context.Context, data []byte) error {
	backup, err := DecodeBackup(data)
	if err != nil {
		metrics.BackupOperations.WithLabelValues("import", "invalid").Inc()
		return err
	}

	usersJSON, err := json.Marshal(backup.Users)
	if err != nil {
		return fmt.Errorf("failed to marshal users: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.kv.Keys(ctx, historyPrefix)
	if err != nil {
		return err
	}

	var batch kv.Batch
	for _, key := range existing {
		batch.Remove(key)
	}
	batch.Set(usersKey, string(usersJSON))

	emails := make([]string, 0, len(backup.Histories))
	for email := range backup.Histories {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	for _, email := range emails {
		records := backup.Histories[email]
		if records == nil {
			records = []models.ScanRecord{}
		}
		recordsJSON, err := json.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		batch.Set(historyKey(normalizeEmail(email)), string(recordsJSON))
	}

	if err := s.kv.Apply(ctx, batch); err != nil {
		metrics.BackupOperations.WithLabelValues("import", "error").Inc()
		return fmt.Errorf("failed to import backup: %w", err)
	}

	metrics.BackupOperations.WithLabelValues("import", "success").Inc()
	logger.Info("Backup imported",
		zap.Int("users", len(backup.Users)),
		zap.Int("histories", len(backup.Histories)),
	)
	return nil
}

// DecodeBackup validates the snapshot shape and decodes it.
func DecodeBackup(data []byte) (*models.Backup, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil || shape == nil {
		return nil, invalidBackup("the file is not a JSON object")
	}

	users, ok := shape["users"]
	if !ok || !isJSONKind(users, '[') {
		return nil, invalidBackup(`"users" must be an array`)
	}
	histories, ok := shape["histories"]
	if !ok || !isJSONKind(histories, '{') {
		return nil, invalidBackup(`"histories" must be an object`)
	}

	var backup models.Backup
	if err := json.Unmarshal(users, &backup.Users); err != nil {
		return nil, invalidBackup("a user entry is malformed")
	}
	if err := json.Unmarshal(histories, &backup.Histories); err != nil {
		return nil, invalidBackup("a history entry is malformed")
	}
	for _, u := range backup.Users {
		if strings.TrimSpace(u.Email) == "" {
			return nil, invalidBackup("a user entry has no email")
		}
	}
	return &backup, nil
}

func invalidBackup(reason string) error {
	return scanerr.New(scanerr.KindValidation, "Invalid backup data format: "+reason+".")
}

func isJSONKind(raw json.RawMessage, open byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == open
}
