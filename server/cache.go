package server

import (
	"io"
	"net/http"

	dotocache "github.com/wolfeidau/doto-cache"
	"github.com/wolfeidau/doto-cache/storage"
	"github.com/wolfeidau/doto-cache/telemetry"
)

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "get")
	key := r.PathValue("key")

	value, ok := s.store.Get(r.Context(), key)
	if !ok {
		telemetry.SetCacheResult(r, telemetry.CacheMiss)
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	telemetry.SetCacheResult(r, telemetry.CacheHit)

	etag := dotocache.HashString(value).ETag()
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, value)
}

// handlePut stores the request body. Writes are best effort, so a rejected or
// failed write still answers 204; X-Cache-Admission says which happened.
func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "put")
	key := r.PathValue("key")

	// a declared length over the ceiling is rejected without reading the body
	admission := s.store.RejectOversize(r.Context(), key, int(r.ContentLength))
	if admission == "" {
		// one byte past the limit is enough for the guard to reject it
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.store.MaxItemSize())+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
			return
		}
		admission = s.store.Write(r.Context(), key, string(body))
	}

	if admission == storage.AdmissionRejected {
		telemetry.SetCacheResult(r, telemetry.CacheRejected)
	}
	w.Header().Set("X-Cache-Admission", string(admission))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "delete")
	s.store.Remove(r.Context(), r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvictNamespace(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "evict")
	n := s.store.EvictNamespace(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": s.store.Namespace(),
		"evicted":   n,
	})
}

func (s *Server) handleNamespaceSize(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "size")
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": s.store.Namespace(),
		"bytes":     s.store.NamespaceSize(r.Context()),
	})
}
