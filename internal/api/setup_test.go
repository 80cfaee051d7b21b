package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"votechain.mini/vcm/internal/ledger"
	"votechain.mini/vcm/internal/logger"
	"votechain.mini/vcm/internal/polls"
	"votechain.mini/vcm/internal/store"
	"votechain.mini/vcm/internal/types"
	"votechain.mini/vcm/internal/voting"
)

// flakyStore fails chain or poll saves on demand.
type flakyStore struct {
	*store.SQLite
	failSaves bool
	failPolls bool
}

func (f *flakyStore) SavePoll(ctx context.Context, p types.Poll) error {
	if f.failPolls {
		return errors.New("write /var/lib/vcm/chain.db: disk I/O error")
	}
	return f.SQLite.SavePoll(ctx, p)
}

func (f *flakyStore) Save(ctx context.Context, chain []types.Block) error {
	if f.failSaves {
		return errors.New("disk unplugged")
	}
	return f.SQLite.Save(ctx, chain)
}

// setupTest creates a temporary store and service for testing
func setupTest(t *testing.T) (*Service, *flakyStore, func()) {
	tmpDir, err := os.MkdirTemp("", "vcm-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	db, err := store.NewSQLite(filepath.Join(tmpDir, "chain.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create store: %v", err)
	}
	fs := &flakyStore{SQLite: db}

	l := logger.Discard(100)

	opts := ledger.DefaultOptions()
	opts.Difficulty = 1
	opts.Logger = l
	chain, err := ledger.New(context.Background(), fs, opts)
	if err != nil {
		db.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create ledger: %v", err)
	}

	reg, err := polls.NewRegistry(context.Background(), fs, l)
	if err != nil {
		db.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create registry: %v", err)
	}

	svc := NewService(voting.New(reg, chain, voting.Options{}, l), db, 5, l)

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return svc, fs, cleanup
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch v := body.(type) {
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

// createPoll opens a poll through the API and returns (poll_id, creator_id).
func createPoll(t *testing.T, svc *Service) (string, string) {
	t.Helper()
	w := postJSON(t, svc.HandleCreatePoll, "/create_poll", map[string]string{
		"question": "Best colour?",
		"options":  "red, green, blue",
		"voters":   "alice,bob,carol",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	return body["poll_id"].(string), body["creator_id"].(string)
}
