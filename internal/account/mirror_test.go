package account

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/cardioscan/backend/internal/history"
	"github.com/cardioscan/backend/internal/storage/kv"
	"github.com/cardioscan/backend/internal/storage/models"
)

func TestMirror_Append(t *testing.T) {
	var created atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/scans" || r.Header.Get("Authorization") != "Bearer remote" {
			t.Errorf("request = %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		var rec models.ScanRecord
		_ = json.NewDecoder(r.Body).Decode(&rec)
		if rec.ScanID != "scan_1" {
			t.Errorf("scanId = %q", rec.ScanID)
		}
		created.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "down"})
	})

	store := history.New(kv.NewMemory())
	m := NewMirror(store, c)
	rec := models.ScanRecord{ScanID: "scan_1"}

	if err := m.Append(context.Background(), "ann@example.com", rec); err != nil {
		t.Fatalf("Append() without token error = %v", err)
	}
	if created.Load() != 0 {
		t.Errorf("mirrored without a token")
	}

	ctx := WithToken(context.Background(), "remote")
	if err := m.Append(ctx, "ann@example.com", rec); err != nil {
		t.Fatalf("Append() error = %v, remote failure must not fail the save", err)
	}
	if created.Load() != 1 {
		t.Errorf("remote creates = %d, want 1", created.Load())
	}

	h, _ := store.History(context.Background(), "ann@example.com")
	if len(h) != 2 {
		t.Errorf("local history len = %d, want 2", len(h))
	}
}
