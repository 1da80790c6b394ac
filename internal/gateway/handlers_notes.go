package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sermonforge/server/internal/notes"
)

type noteRequest struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	ScriptureRef string `json:"scripture_ref"`
}

func (g *Gateway) handleListNotes(w http.ResponseWriter, r *http.Request) {
	list, err := g.notes.List(r.Context(), userID(r))
	if err != nil {
		g.logger.Error("failed to list notes", zap.Error(err))
		g.writeError(w, http.StatusInternalServerError, "failed to list notes")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]interface{}{"notes": list})
}

func (g *Gateway) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		g.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	now := time.Now().UTC()
	note := notes.Note{
		ID:           uuid.New().String(),
		UserID:       userID(r),
		Title:        req.Title,
		Content:      req.Content,
		ScriptureRef: req.ScriptureRef,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := g.notes.Create(r.Context(), note); err != nil {
		g.logger.Error("failed to create note", zap.Error(err))
		g.writeError(w, http.StatusInternalServerError, "failed to create note")
		return
	}

	g.writeJSON(w, http.StatusCreated, note)
}

func (g *Gateway) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := g.notes.Get(r.Context(), userID(r), chi.URLParam(r, "note_id"))
	if err != nil {
		g.writeNoteError(w, err, "failed to load note")
		return
	}

	g.writeJSON(w, http.StatusOK, note)
}

func (g *Gateway) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		g.writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	note := notes.Note{
		ID:           chi.URLParam(r, "note_id"),
		UserID:       userID(r),
		Title:        req.Title,
		Content:      req.Content,
		ScriptureRef: req.ScriptureRef,
		UpdatedAt:    time.Now().UTC(),
	}

	if err := g.notes.Update(r.Context(), note); err != nil {
		g.writeNoteError(w, err, "failed to update note")
		return
	}

	updated, err := g.notes.Get(r.Context(), userID(r), note.ID)
	if err != nil {
		g.writeNoteError(w, err, "failed to load note")
		return
	}

	g.writeJSON(w, http.StatusOK, updated)
}

func (g *Gateway) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := g.notes.Delete(r.Context(), userID(r), chi.URLParam(r, "note_id")); err != nil {
		g.writeNoteError(w, err, "failed to delete note")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) writeNoteError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, notes.ErrNotFound) {
		g.writeError(w, http.StatusNotFound, "note not found")
		return
	}
	g.logger.Error(message, zap.Error(err))
	g.writeError(w, http.StatusInternalServerError, message)
}
