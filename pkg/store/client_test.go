package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ripple/pkg/breadcrumb"
)

// fakeStore is a minimal in-memory implementation of the document store
// HTTP contract, with optimistic concurrency on PATCH.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]*breadcrumb.Breadcrumb
	nextID  int
	token   string
	patches int
}

func newFakeStore(token string) *fakeStore {
	return &fakeStore{docs: map[string]*breadcrumb.Breadcrumb{}, token: token}
}

func (f *fakeStore) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.nextID++
		id := "doc-" + strconv.Itoa(f.nextID)
		f.docs[id] = &breadcrumb.Breadcrumb{
			ID: id, SchemaName: req.SchemaName, Title: req.Title,
			Tags: req.Tags, Context: req.Context, Version: 1,
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		doc, ok := f.docs[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("PATCH /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		doc, ok := f.docs[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("If-Match") != strconv.FormatInt(doc.Version, 10) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		var req UpdateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Context != nil {
			doc.Context = req.Context
		}
		if req.Title != nil {
			doc.Title = *req.Title
		}
		doc.Version++
		f.patches++
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /documents", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var out []breadcrumb.Breadcrumb
		f.mu.Lock()
		for _, doc := range f.docs {
			if schema := r.URL.Query().Get("schema_name"); schema != "" && doc.SchemaName != schema {
				continue
			}
			if tag := r.URL.Query().Get("tag"); tag != "" && !doc.HasTag(tag) {
				continue
			}
			out = append(out, *doc)
		}
		f.mu.Unlock()
		json.NewEncoder(w).Encode(out)
	})
	return mux
}

func (f *fakeStore) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+f.token
}

func newTestClient(t *testing.T, fake *fakeStore, creds CredentialSource) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, creds, nil)
}

func TestCreateAndGet(t *testing.T) {
	fake := newFakeStore("tok")
	client := newTestClient(t, fake, StaticCredential("tok"))

	id, err := client.Create(context.Background(), CreateRequest{
		SchemaName: "note.v1",
		Title:      "hello",
		Tags:       []string{"chat"},
		Context:    jsoniter.RawMessage(`{"text":"hi"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "note.v1", doc.SchemaName)
	assert.Equal(t, int64(1), doc.Version)
}

func TestGetNotFound(t *testing.T) {
	client := newTestClient(t, newFakeStore("tok"), StaticCredential("tok"))
	_, err := client.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaleVersionNeverCorrupts(t *testing.T) {
	fake := newFakeStore("tok")
	client := newTestClient(t, fake, StaticCredential("tok"))

	id, err := client.Create(context.Background(), CreateRequest{SchemaName: "note.v1", Context: jsoniter.RawMessage(`{"n":1}`)})
	require.NoError(t, err)

	// A write carrying a version the store no longer holds is rejected
	// and leaves the document untouched.
	err = client.Update(context.Background(), id, 99, UpdateRequest{Context: jsoniter.RawMessage(`{"n":2}`)})
	assert.ErrorIs(t, err, ErrStaleVersion)

	doc, err := client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(doc.Context))
	assert.Equal(t, int64(1), doc.Version)

	// The same write with the refreshed version succeeds.
	err = client.Update(context.Background(), id, doc.Version, UpdateRequest{Context: jsoniter.RawMessage(`{"n":2}`)})
	require.NoError(t, err)

	doc, err = client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(doc.Context))
	assert.Equal(t, int64(2), doc.Version)
}

func TestUpdateWithRetryRecoversFromConflict(t *testing.T) {
	fake := newFakeStore("tok")
	client := newTestClient(t, fake, StaticCredential("tok"))

	id, err := client.Create(context.Background(), CreateRequest{SchemaName: "note.v1", Context: jsoniter.RawMessage(`{"n":1}`)})
	require.NoError(t, err)

	conflicted := false
	err = client.UpdateWithRetry(context.Background(), id, func(doc *breadcrumb.Breadcrumb) (UpdateRequest, error) {
		if !conflicted {
			// Simulate a concurrent writer bumping the version between
			// our read and our conditional write.
			conflicted = true
			fake.mu.Lock()
			fake.docs[id].Version++
			fake.mu.Unlock()
		}
		return UpdateRequest{Context: jsoniter.RawMessage(`{"n":2}`)}, nil
	})
	require.NoError(t, err)

	doc, err := client.Get(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(doc.Context))
}

// An expired credential is refreshed once and the request replayed
// before any error surfaces.
func TestUnauthorizedTriggersSingleRefresh(t *testing.T) {
	fake := newFakeStore("fresh")
	creds := NewRefreshingCredential(func(context.Context) (string, error) {
		return "fresh", nil
	})
	// Seed a stale token so the first request 401s.
	creds.token = "stale"

	client := newTestClient(t, fake, creds)
	_, err := client.Create(context.Background(), CreateRequest{SchemaName: "note.v1"})
	require.NoError(t, err)
}

func TestListFilters(t *testing.T) {
	fake := newFakeStore("tok")
	client := newTestClient(t, fake, StaticCredential("tok"))

	_, err := client.Create(context.Background(), CreateRequest{SchemaName: "note.v1", Tags: []string{"chat"}})
	require.NoError(t, err)
	_, err = client.Create(context.Background(), CreateRequest{SchemaName: "task.v1", Tags: []string{"work"}})
	require.NoError(t, err)

	docs, err := client.List(context.Background(), Query{SchemaName: "note.v1"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "note.v1", docs[0].SchemaName)

	docs, err = client.List(context.Background(), Query{Tag: "work"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "task.v1", docs[0].SchemaName)
}
