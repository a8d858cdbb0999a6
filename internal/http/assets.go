package httpserver

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/kdbuddy/kdbuddy/internal/offline"
)

var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// handleAsset serves application shell files through the offline cache.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	if s.assets == nil {
		http.NotFound(w, r)
		return
	}
	target := s.assets.URL(r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	// Detached so a client that goes away does not cut short the cache fill.
	out, err := http.NewRequestWithContext(context.WithoutCancel(r.Context()), http.MethodGet, target, nil)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid asset path")
		return
	}
	if isNavigation(r) {
		offline.MarkNavigation(out)
	}

	resp, err := s.assets.RoundTrip(out)
	if err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Warn("asset unavailable")
		s.respondError(w, http.StatusServiceUnavailable, "ASSET_UNAVAILABLE", "Asset unavailable while offline")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(key)]; hop {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.WithError(err).WithField("path", r.URL.Path).Debug("asset copy interrupted")
	}
}

func isNavigation(r *http.Request) bool {
	if offline.IsNavigation(r) {
		return true
	}
	return r.Header.Get("Sec-Fetch-Mode") == "" && strings.Contains(r.Header.Get("Accept"), "text/html")
}
