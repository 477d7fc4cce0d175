package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tapestry/engine/internal/store"
)

type HTTPServer struct {
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service}
}

func (s *HTTPServer) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type projectPayload struct {
	ID             string `json:"id"`
	ProjectName    string `json:"projectName"`
	ModifiedDate   string `json:"modifiedDate"`
	ParentRevision string `json:"parentRevision,omitempty"`
}

type revisionPayload struct {
	ProjectID  string `json:"projectId"`
	RevisionID string `json:"revisionId"`
	ParentID   string `json:"parentId,omitempty"`
	Size       int    `json:"size"`
	Timestamp  string `json:"timestamp"`
}

func projectJSON(p store.ProjectMetadata) projectPayload {
	return projectPayload{
		ID:             p.ID,
		ProjectName:    p.ProjectName,
		ModifiedDate:   p.ModifiedDate.UTC().Format(time.RFC3339Nano),
		ParentRevision: p.ParentRevision,
	}
}

func revisionJSON(r store.RevisionSnapshot) revisionPayload {
	return revisionPayload{
		ProjectID:  r.ProjectID,
		RevisionID: r.RevisionID,
		ParentID:   r.ParentID,
		Size:       len(r.Data),
		Timestamp:  r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/projects" {
		projects, err := s.service.ListProjects(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		payload := make([]projectPayload, 0, len(projects))
		for _, p := range projects {
			payload = append(payload, projectJSON(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/projects" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		active, err := s.service.CreateProject(r.Context(), body.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"project": projectJSON(active.Project)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/state" {
		content, err := s.service.GetState(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"content": content})
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/state" {
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.SetState(r.Context(), body.Content); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if rest, ok := strings.CutPrefix(r.URL.Path, "/api/projects/"); ok {
		s.handleProject(w, r, rest)
		return
	}

	writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", "Unknown route", nil)
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", "Unknown route", nil)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "open" && r.Method == http.MethodPost:
		active, err := s.service.OpenProject(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project": projectJSON(active.Project)})

	case len(parts) == 2 && parts[1] == "name" && r.Method == http.MethodPut:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Name must not be empty", nil)
			return
		}
		if err := s.service.RenameProject(r.Context(), id, body.Name); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		snapshots, err := s.service.History(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		payload := make([]revisionPayload, 0, len(snapshots))
		for _, snap := range snapshots {
			payload = append(payload, revisionJSON(snap))
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": payload})

	case len(parts) == 2 && parts[1] == "revisions" && r.Method == http.MethodPost:
		snapshot, err := s.service.SaveRevision(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"revision": revisionJSON(snapshot)})

	case len(parts) == 4 && parts[1] == "revisions" && parts[3] == "load" && r.Method == http.MethodPost:
		active, err := s.service.LoadRevision(r.Context(), id, parts[2])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"project": projectJSON(active.Project)})

	default:
		writeError(w, http.StatusNotFound, "UNKNOWN_ROUTE", "Unknown route", nil)
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	domain := classify(err)
	writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

