package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tapestry/engine/internal/archive"
	"tapestry/engine/internal/bridge"
	"tapestry/engine/internal/broadcast"
	"tapestry/engine/internal/session"
	"tapestry/engine/internal/store"
	"tapestry/engine/internal/util"
)

type memCatalog struct {
	mu   sync.Mutex
	rows map[string]store.ProjectMetadata
}

func newMemCatalog() *memCatalog {
	return &memCatalog{rows: make(map[string]store.ProjectMetadata)}
}

func (c *memCatalog) Create(_ context.Context, name string) (store.ProjectMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := store.ProjectMetadata{
		ID:           util.NewID("prj"),
		ProjectName:  name,
		ModifiedDate: time.Now(),
	}
	c.rows[row.ID] = row
	return row, nil
}

func (c *memCatalog) List(_ context.Context) ([]store.ProjectMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]store.ProjectMetadata, 0, len(c.rows))
	for _, row := range c.rows {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ModifiedDate.After(rows[j].ModifiedDate)
	})
	return rows, nil
}

func (c *memCatalog) Get(_ context.Context, id string) (store.ProjectMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[id]
	if !ok {
		return store.ProjectMetadata{}, store.ErrNotFound
	}
	return row, nil
}

func (c *memCatalog) Rename(_ context.Context, id, name string) error {
	return c.mutate(id, func(row *store.ProjectMetadata) { row.ProjectName = name })
}

func (c *memCatalog) Touch(_ context.Context, id string) error {
	return c.mutate(id, func(row *store.ProjectMetadata) { row.ModifiedDate = time.Now() })
}

func (c *memCatalog) SetParentRevision(_ context.Context, id, revisionID string) error {
	return c.mutate(id, func(row *store.ProjectMetadata) { row.ParentRevision = revisionID })
}

func (c *memCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(c.rows, id)
	return nil
}

func (c *memCatalog) mutate(id string, fn func(*store.ProjectMetadata)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&row)
	c.rows[id] = row
	return nil
}

type memSnapshots struct {
	mu   sync.Mutex
	rows []store.RevisionSnapshot
}

func (s *memSnapshots) Insert(_ context.Context, snapshot store.RevisionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, snapshot)
	return nil
}

func (s *memSnapshots) History(_ context.Context, projectID string) ([]store.RevisionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.RevisionSnapshot
	for _, row := range s.rows {
		if row.ProjectID == projectID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memSnapshots) Get(_ context.Context, projectID, revisionID string) (store.RevisionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ProjectID == projectID && row.RevisionID == revisionID {
			return row, nil
		}
	}
	return store.RevisionSnapshot{}, store.ErrNotFound
}

type memContents struct {
	mu      sync.Mutex
	updates map[string][][]byte
}

func newMemContents() *memContents {
	return &memContents{updates: make(map[string][][]byte)}
}

func (c *memContents) AppendUpdate(_ context.Context, projectID string, update []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates[projectID] = append(c.updates[projectID], update)
	return nil
}

func (c *memContents) Updates(_ context.Context, projectID string) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.updates[projectID]...), nil
}

func (c *memContents) DeleteProject(_ context.Context, projectID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.updates, projectID)
	return nil
}

func setupServer(t *testing.T) http.Handler {
	t.Helper()
	s := miniredis.RunT(t)
	channel, err := broadcast.Dial(context.Background(), "redis://"+s.Addr(), "tapestry:sync")
	if err != nil {
		t.Fatalf("dial channel: %v", err)
	}
	t.Cleanup(func() { channel.Close() })

	catalog := newMemCatalog()
	snapshots := &memSnapshots{}
	contents := newMemContents()

	archiveService := archive.New(catalog, snapshots, contents, nil)
	coordinator := session.New(catalog, contents, channel, archiveService)
	t.Cleanup(func() { coordinator.Close() })

	service := New(catalog, archiveService, coordinator, bridge.New(coordinator), nil)
	return NewHTTPServer(service).Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealthAndReady(t *testing.T) {
	handler := setupServer(t)

	rec, body := doRequest(t, handler, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Errorf("health: %d %v", rec.Code, body)
	}
	rec, body = doRequest(t, handler, http.MethodGet, "/api/ready", nil)
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Errorf("ready: %d %v", rec.Code, body)
	}
}

func TestUnknownRoute(t *testing.T) {
	handler := setupServer(t)
	rec, body := doRequest(t, handler, http.MethodGet, "/api/nope", nil)
	if rec.Code != http.StatusNotFound || body["code"] != "UNKNOWN_ROUTE" {
		t.Errorf("unexpected response %d %v", rec.Code, body)
	}
}

func TestProjectLifecycle(t *testing.T) {
	handler := setupServer(t)

	rec, body := doRequest(t, handler, http.MethodPost, "/api/projects", map[string]string{})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", rec.Code, body)
	}
	project := body["project"].(map[string]any)
	if project["projectName"] != "Untitled project" {
		t.Errorf("expected default name, got %v", project["projectName"])
	}
	id := project["id"].(string)

	rec, body = doRequest(t, handler, http.MethodGet, "/api/projects", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %v", rec.Code, body)
	}
	if projects := body["projects"].([]any); len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}

	rec, body = doRequest(t, handler, http.MethodPut, "/api/state", map[string]string{"content": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set state: %d %v", rec.Code, body)
	}
	rec, body = doRequest(t, handler, http.MethodGet, "/api/state", nil)
	if rec.Code != http.StatusOK || body["content"] != "hello" {
		t.Errorf("get state: %d %v", rec.Code, body)
	}

	rec, body = doRequest(t, handler, http.MethodPut, "/api/projects/"+id+"/name", map[string]string{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank rename accepted: %d %v", rec.Code, body)
	}
	rec, _ = doRequest(t, handler, http.MethodPut, "/api/projects/"+id+"/name", map[string]string{"name": "robot arm"})
	if rec.Code != http.StatusOK {
		t.Errorf("rename: %d", rec.Code)
	}

	rec, _ = doRequest(t, handler, http.MethodDelete, "/api/projects/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete: %d", rec.Code)
	}
	rec, body = doRequest(t, handler, http.MethodGet, "/api/state", nil)
	if rec.Code != http.StatusConflict || body["code"] != "NO_ACTIVE_PROJECT" {
		t.Errorf("state after delete: %d %v", rec.Code, body)
	}
}

func TestRevisionEndpoints(t *testing.T) {
	handler := setupServer(t)

	_, body := doRequest(t, handler, http.MethodPost, "/api/projects", map[string]string{"name": "original"})
	id := body["project"].(map[string]any)["id"].(string)

	doRequest(t, handler, http.MethodPut, "/api/state", map[string]string{"content": "draft one"})
	rec, body := doRequest(t, handler, http.MethodPost, "/api/projects/"+id+"/revisions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save revision: %d %v", rec.Code, body)
	}
	first := body["revision"].(map[string]any)
	if first["size"].(float64) <= 0 {
		t.Error("revision has no content")
	}

	doRequest(t, handler, http.MethodPut, "/api/state", map[string]string{"content": "draft two"})
	rec, body = doRequest(t, handler, http.MethodPost, "/api/projects/"+id+"/revisions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save second revision: %d %v", rec.Code, body)
	}
	second := body["revision"].(map[string]any)
	if second["parentId"] != first["revisionId"] {
		t.Errorf("second revision not chained: parent %v, want %v", second["parentId"], first["revisionId"])
	}

	rec, body = doRequest(t, handler, http.MethodGet, "/api/projects/"+id+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d %v", rec.Code, body)
	}
	revisions := body["revisions"].([]any)
	if len(revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(revisions))
	}
	if revisions[0].(map[string]any)["revisionId"] != second["revisionId"] {
		t.Error("history not ordered most recent first")
	}

	rec, body = doRequest(t, handler, http.MethodPost,
		"/api/projects/"+id+"/revisions/"+first["revisionId"].(string)+"/load", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("load revision: %d %v", rec.Code, body)
	}
	fork := body["project"].(map[string]any)
	if fork["projectName"] != "original revision" {
		t.Errorf("unexpected fork name %v", fork["projectName"])
	}
	if fork["parentRevision"] != first["revisionId"] {
		t.Errorf("fork parent %v, want %v", fork["parentRevision"], first["revisionId"])
	}

	rec, body = doRequest(t, handler, http.MethodGet, "/api/state", nil)
	if rec.Code != http.StatusOK || body["content"] != "draft one" {
		t.Errorf("fork state: %d %v", rec.Code, body)
	}
}

func TestRevisionErrorsNormalizeToNotFound(t *testing.T) {
	handler := setupServer(t)

	rec, body := doRequest(t, handler, http.MethodPost, "/api/projects/prj_missing/revisions", nil)
	if rec.Code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("save on missing project: %d %v", rec.Code, body)
	}

	_, body = doRequest(t, handler, http.MethodPost, "/api/projects", map[string]string{"name": "present"})
	id := body["project"].(map[string]any)["id"].(string)
	rec, body = doRequest(t, handler, http.MethodPost, "/api/projects/"+id+"/revisions/rev_missing/load", nil)
	if rec.Code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("load missing revision: %d %v", rec.Code, body)
	}
}
