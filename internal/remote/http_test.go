package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/syncnote/internal/notes"
)

type recordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Body          map[string]any
}

func newRecordingServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	requests := &[]recordedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		recorded := recordedRequest{
			Method:        request.Method,
			Path:          request.URL.Path,
			Query:         request.URL.RawQuery,
			Authorization: request.Header.Get("Authorization"),
		}
		raw, _ := io.ReadAll(request.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &recorded.Body); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		*requests = append(*requests, recorded)
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(status)
		_, _ = writer.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server, requests
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(HTTPClientConfig{BaseURL: baseURL + "/", Tokens: StaticToken("secret-token")})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func TestNewHTTPClientRequiresAbsoluteBaseURL(t *testing.T) {
	for _, base := range []string{"", "  ", "relative/path"} {
		if _, err := NewHTTPClient(HTTPClientConfig{BaseURL: base}); !errors.Is(err, ErrInvalidClientConfig) {
			t.Fatalf("base %q: expected ErrInvalidClientConfig, got %v", base, err)
		}
	}
}

func TestCreateRoutesByKindAndSendsPayload(t *testing.T) {
	created := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		record       notes.Record
		expectedPath string
		parentField  string
		parentValue  string
	}{
		{
			name:         "collection",
			record:       &notes.Collection{Envelope: notes.Envelope{ID: "c1", CreatedAt: created, UpdatedAt: created}, Name: "Home"},
			expectedPath: "/categories",
		},
		{
			name:         "note",
			record:       &notes.Note{Envelope: notes.Envelope{ID: "n1", CreatedAt: created, UpdatedAt: created}, CollectionID: "c1", Title: "Chores"},
			expectedPath: "/categories/c1/notes",
			parentField:  "category",
			parentValue:  "c1",
		},
		{
			name:         "item",
			record:       &notes.ChecklistItem{Envelope: notes.Envelope{ID: "i1", OrderIndex: 2, CreatedAt: created, UpdatedAt: created}, NoteID: "n1", Title: "Dishes", Content: "<i>now</i>"},
			expectedPath: "/notes/n1/items",
			parentField:  "note",
			parentValue:  "n1",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			server, requests := newRecordingServer(t, http.StatusCreated, `{"success":true,"data":{},"message":null}`)
			client := newTestClient(t, server.URL)

			if err := client.Create(context.Background(), testCase.record); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			if len(*requests) != 1 {
				t.Fatalf("expected one request, got %d", len(*requests))
			}
			request := (*requests)[0]
			if request.Method != http.MethodPost || request.Path != testCase.expectedPath {
				t.Fatalf("unexpected request %s %s", request.Method, request.Path)
			}
			if request.Authorization != "Bearer secret-token" {
				t.Fatalf("unexpected authorization header %q", request.Authorization)
			}
			if request.Body["id"] != testCase.record.Meta().ID {
				t.Fatalf("expected id in payload, got %v", request.Body)
			}
			if testCase.parentField != "" && request.Body[testCase.parentField] != testCase.parentValue {
				t.Fatalf("expected %s=%s, got %v", testCase.parentField, testCase.parentValue, request.Body)
			}
			if _, leaked := request.Body["is_dirty"]; leaked {
				t.Fatalf("local sync state must not be sent: %v", request.Body)
			}
		})
	}
}

func TestUpdateAndDeleteAddressResource(t *testing.T) {
	server, requests := newRecordingServer(t, http.StatusOK, `{"success":true,"data":null,"message":null}`)
	client := newTestClient(t, server.URL)
	ctx := context.Background()

	note := &notes.Note{Envelope: notes.Envelope{ID: "n1"}, CollectionID: "c1", Title: "Chores"}
	if err := client.Update(ctx, note); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := client.Delete(ctx, notes.KindItem, "i1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if (*requests)[0].Method != http.MethodPut || (*requests)[0].Path != "/notes/n1" {
		t.Fatalf("unexpected update request %+v", (*requests)[0])
	}
	if (*requests)[1].Method != http.MethodDelete || (*requests)[1].Path != "/items/i1" {
		t.Fatalf("unexpected delete request %+v", (*requests)[1])
	}
}

func TestDeleteAcceptsEmptyNoContentResponse(t *testing.T) {
	server, _ := newRecordingServer(t, http.StatusNoContent, "")
	client := newTestClient(t, server.URL)
	if err := client.Delete(context.Background(), notes.KindCollection, "c1"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		status   int
		response string
		expected error
		code     string
	}{
		{status: http.StatusNotFound, response: `{"success":false,"data":null,"message":"Not found.","error_code":"ERROR"}`, expected: ErrNotFound, code: "ERROR"},
		{status: http.StatusConflict, response: `{"success":false,"data":null,"message":"exists","error_code":"ID"}`, expected: ErrAlreadyExists, code: "ID"},
		{status: http.StatusBadRequest, response: `{"success":false,"data":null,"message":"This field may not be blank.","error_code":"TITLE"}`, expected: ErrRejected, code: "TITLE"},
		{status: http.StatusUnauthorized, response: `{"success":false,"data":null,"message":"no token"}`, expected: ErrUnauthorized},
		{status: http.StatusBadGateway, response: `<html>bad gateway</html>`, expected: ErrUnavailable},
	}

	for _, testCase := range tests {
		t.Run(http.StatusText(testCase.status), func(t *testing.T) {
			server, _ := newRecordingServer(t, testCase.status, testCase.response)
			client := newTestClient(t, server.URL)

			err := client.Delete(context.Background(), notes.KindNote, "n1")
			if !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			var remoteErr *Error
			if !errors.As(err, &remoteErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if remoteErr.StatusCode != testCase.status || remoteErr.Code != testCase.code {
				t.Fatalf("unexpected error details %+v", remoteErr)
			}
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := newTestClient(t, baseURL)
	_, err := client.FetchChanges(context.Background(), nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func largeChangesEnvelope(t *testing.T, items int) []byte {
	t.Helper()
	changes := ChangesPayload{Categories: []CategoryPayload{}, Notes: []NotePayload{}}
	updatedAt := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	for index := 0; index < items; index++ {
		changes.Items = append(changes.Items, ItemPayload{
			ID:         fmt.Sprintf("item-%05d", index),
			Note:       "note-1",
			Title:      fmt.Sprintf("entry %d", index),
			Content:    strings.Repeat("x", 1024),
			OrderIndex: int64(index),
			CreatedAt:  updatedAt,
			UpdatedAt:  updatedAt,
		})
	}
	data, err := json.Marshal(changes)
	if err != nil {
		t.Fatalf("marshal changes: %v", err)
	}
	body, err := json.Marshal(ResponseEnvelope{Success: true, Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func TestFetchChangesAcceptsDeltaAboveEightMebibytes(t *testing.T) {
	body := largeChangesEnvelope(t, 9000)
	if len(body) <= 8<<20 {
		t.Fatalf("expected a body above 8 MiB, got %d bytes", len(body))
	}
	server, _ := newRecordingServer(t, http.StatusOK, string(body))

	delta, err := newTestClient(t, server.URL).FetchChanges(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(delta.Items) != 9000 {
		t.Fatalf("expected 9000 items, got %d", len(delta.Items))
	}
}

func TestResponseAboveLimitIsNotTransient(t *testing.T) {
	body := largeChangesEnvelope(t, 8)
	server, _ := newRecordingServer(t, http.StatusOK, string(body))
	client, err := NewHTTPClient(HTTPClientConfig{
		BaseURL:          server.URL,
		Tokens:           StaticToken("secret-token"),
		MaxResponseBytes: int64(len(body) - 1),
	})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}

	_, err = client.FetchChanges(context.Background(), nil)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("an oversized response must not be reported as transient: %v", err)
	}

	exact, err := NewHTTPClient(HTTPClientConfig{
		BaseURL:          server.URL,
		Tokens:           StaticToken("secret-token"),
		MaxResponseBytes: int64(len(body)),
	})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	if _, err := exact.FetchChanges(context.Background(), nil); err != nil {
		t.Fatalf("expected a body at the limit to decode, got %v", err)
	}

	if _, err := NewHTTPClient(HTTPClientConfig{BaseURL: server.URL, MaxResponseBytes: -1}); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected ErrInvalidClientConfig for a negative limit, got %v", err)
	}
}

func TestFetchChangesDecodesDelta(t *testing.T) {
	response := `{"success":true,"message":null,"data":{
		"categories_changed":[{"id":"c1","name":"Home","description":"","order_index":0,"created_at":"2026-10-01T09:00:00Z","updated_at":"2026-10-02T09:00:00Z","is_deleted":false}],
		"notes_changed":[{"id":"n1","category":"c1","title":"Chores","description":"","order_index":1,"created_at":"2026-10-01T09:00:00Z","updated_at":"2026-10-02T09:00:00Z","is_deleted":true}],
		"note_items_changed":[{"id":"i1","note":"n1","title":"Dishes","content":"<b>x</b>","is_completed":true,"order_index":3,"created_at":"2026-10-01T09:00:00Z","updated_at":"2026-10-02T09:00:00Z","is_deleted":false}]
	}}`
	server, requests := newRecordingServer(t, http.StatusOK, response)
	client := newTestClient(t, server.URL)
	since := time.Date(2026, 10, 1, 12, 30, 0, 500, time.UTC)

	delta, err := client.FetchChanges(context.Background(), &since)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if (*requests)[0].Path != "/sync" || (*requests)[0].Query != "updated_after=2026-10-01T12%3A30%3A00.0000005Z" {
		t.Fatalf("unexpected request %+v", (*requests)[0])
	}
	if delta.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", delta.Len())
	}
	if delta.Collections[0].Name != "Home" || delta.Collections[0].IsDirty || delta.Collections[0].SyncedAt != nil {
		t.Fatalf("unexpected collection %+v", delta.Collections[0])
	}
	if !delta.Notes[0].IsDeleted || delta.Notes[0].CollectionID != "c1" {
		t.Fatalf("unexpected note %+v", delta.Notes[0])
	}
	item := delta.Items[0]
	if item.NoteID != "n1" || !item.IsCompleted || item.Content != "<b>x</b>" || item.OrderIndex != 3 {
		t.Fatalf("unexpected item %+v", item)
	}
	if len(delta.Records(notes.KindItem)) != 1 {
		t.Fatalf("expected Records to expose the item")
	}
}

func TestFetchChangesWithoutCheckpointRequestsEverything(t *testing.T) {
	server, requests := newRecordingServer(t, http.StatusOK, `{"success":true,"data":{"categories_changed":[],"notes_changed":[],"note_items_changed":[]}}`)
	client := newTestClient(t, server.URL)
	if _, err := client.FetchChanges(context.Background(), nil); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if (*requests)[0].Query != "" {
		t.Fatalf("expected no query, got %q", (*requests)[0].Query)
	}
}
