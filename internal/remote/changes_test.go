package remote

import (
	"context"
	"net/http"
	"testing"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/utils"
)

func TestStartPageToken(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/changes/startPageToken" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeJSON(w, 200, map[string]interface{}{"startPageToken": "100"})
	}), Options{})

	token, err := store.StartPageToken(context.Background())
	if err != nil {
		t.Fatalf("StartPageToken() error = %v", err)
	}
	if token != "100" {
		t.Errorf("Expected token 100, got %s", token)
	}
}

func TestChanges_Pages(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/changes" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("pageToken") {
		case "100":
			writeJSON(w, 200, map[string]interface{}{
				"changes": []map[string]interface{}{
					{"fileId": "f1", "file": map[string]interface{}{"id": "f1", "parents": []string{"elsewhere"}}},
				},
				"nextPageToken": "101",
			})
		case "101":
			writeJSON(w, 200, map[string]interface{}{
				"changes": []map[string]interface{}{
					{"fileId": "f2", "file": map[string]interface{}{"id": "f2", "parents": []string{"root-id"}, "trashed": true}},
					{"fileId": "f3", "removed": true},
				},
				"newStartPageToken": "102",
			})
		default:
			t.Errorf("Unexpected page token %q", r.URL.Query().Get("pageToken"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}), Options{})

	set, err := store.Changes(context.Background(), "100")
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if set.NextToken != "102" {
		t.Errorf("Expected next token 102, got %s", set.NextToken)
	}
	if len(set.Changes) != 3 {
		t.Fatalf("Expected 3 changes, got %d", len(set.Changes))
	}
	if !set.Changes[1].Removed || !set.Changes[2].Removed {
		t.Errorf("Expected trashed and removed files to be marked removed: %+v", set.Changes)
	}

	tests := []struct {
		name     string
		ids      map[string]bool
		expected bool
	}{
		{"parent match", map[string]bool{"root-id": true}, true},
		{"file match", map[string]bool{"f3": true}, true},
		{"unrelated", map[string]bool{"other": true}, false},
	}
	for _, tt := range tests {
		if got := set.Touches(tt.ids); got != tt.expected {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.expected, got)
		}
	}
}

func TestChanges_RequiresToken(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler(), Options{})

	_, err := store.Changes(context.Background(), "")
	if !errors.HasCode(err, utils.ErrCodeInvalidArgument) {
		t.Errorf("Expected %s, got %v", utils.ErrCodeInvalidArgument, err)
	}
}
