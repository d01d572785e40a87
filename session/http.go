package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/domatlas/dom"
	"github.com/hazyhaar/domatlas/history"
)

// Router builds the HTTP surface for the session.
func (s *Session) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/scan", s.handleScan)
	r.Get("/render", s.handleRender)
	r.Get("/element/{index}", s.handleElement)

	r.Route("/history", func(r chi.Router) {
		r.Post("/start", s.handleHistoryStart)
		r.Post("/stop", s.handleHistoryStop)
		r.Post("/snapshot", s.handleSnapshot)
		r.Post("/rollback", s.handleRollback)
		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
	})

	return r
}

type scanResponse struct {
	StructureHash string `json:"structure_hash"`
	ElementCount  int    `json:"element_count"`
	Indexes       []int  `json:"indexes"`
}

func (s *Session) handleScan(w http.ResponseWriter, r *http.Request) {
	s.Invalidate()
	tree, err := s.ScanPage(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	count := 0
	tree.Root.WalkElements(func(*dom.ElementNode) bool {
		count++
		return true
	})
	writeJSON(w, http.StatusOK, scanResponse{
		StructureHash: tree.StructureHash,
		ElementCount:  count,
		Indexes:       tree.Selectors.Indexes(),
	})
}

func (s *Session) handleRender(w http.ResponseWriter, r *http.Request) {
	text, err := s.Render(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, text)
}

type elementResponse struct {
	Tag         string            `json:"tag"`
	XPath       string            `json:"xpath"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Text        string            `json:"text,omitempty"`
	Fingerprint dom.Fingerprint   `json:"fingerprint"`
}

func (s *Session) handleElement(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "index must be an integer"})
		return
	}
	el, err := s.Element(r.Context(), index)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, elementResponse{
		Tag:         el.TagName,
		XPath:       el.XPath,
		Attributes:  el.Attributes,
		Text:        el.VisibleText(),
		Fingerprint: dom.ComputeFingerprint(el),
	})
}

func (s *Session) handleHistoryStart(w http.ResponseWriter, r *http.Request) {
	s.hist.StartObserving()
	writeJSON(w, http.StatusOK, map[string]string{"status": "observing"})
}

func (s *Session) handleHistoryStop(w http.ResponseWriter, r *http.Request) {
	s.hist.StopObserving()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type snapshotRequest struct {
	Description string `json:"description"`
}

func (s *Session) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	node, err := s.hist.CreateSnapshot(r.Context(), req.Description)
	if err != nil {
		if errors.Is(err, history.ErrNotObserving) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type rollbackRequest struct {
	SnapshotID     string `json:"snapshot_id,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	CreateSnapshot bool   `json:"create_snapshot,omitempty"`
}

func (s *Session) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	res, err := s.hist.Rollback(r.Context(), history.RollbackOptions{
		SnapshotID:     req.SnapshotID,
		Timestamp:      req.Timestamp,
		CreateSnapshot: req.CreateSnapshot,
	})
	if err != nil {
		if errors.Is(err, history.ErrSnapshotNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	s.Invalidate()
	writeJSON(w, http.StatusOK, res)
}

func (s *Session) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.hist.Export()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Session) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}
	if err := s.hist.Import(data); err != nil {
		if errors.Is(err, history.ErrUnknownVersion) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
