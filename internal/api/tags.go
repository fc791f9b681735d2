package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/spraycell-core/internal/tag"
)

// handleListTags returns every tag snapshot in definition order.
//
// Query parameters:
//   - prefix: only tags whose name starts with this (e.g. "booth.")
//   - stale: "true" for stale tags only, "false" for fresh tags only
func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")

	var staleFilter *bool
	if v := q.Get("stale"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "stale must be true or false")
			return
		}
		staleFilter = &b
	}

	all := s.tags.List()
	tags := make([]tag.Tag, 0, len(all))
	for _, t := range all {
		if prefix != "" && !strings.HasPrefix(t.Name, prefix) {
			continue
		}
		if staleFilter != nil && t.Stale != *staleFilter {
			continue
		}
		tags = append(tags, t)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tags":  tags,
		"count": len(tags),
	})
}

// handleGetTag returns one tag snapshot.
func (s *Server) handleGetTag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	t, err := s.tags.Tag(name)
	if err != nil {
		if errors.Is(err, tag.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "tag not found: "+name)
			return
		}
		s.logger.Error("failed to read tag", "tag", name, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to read tag")
		return
	}

	writeJSON(w, http.StatusOK, t)
}
