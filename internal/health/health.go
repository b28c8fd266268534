// Package health serves the liveness and readiness probes.
package health

import (
	"net/http"

	"github.com/star/starcover/internal/tle"
)

// CatalogGetter returns the catalog currently served, or nil.
type CatalogGetter interface {
	Get() *tle.Catalog
}

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once a non-empty catalog is loaded and 503
// until then.
func Readyz(store CatalogGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if cat := store.Get(); cat == nil || cat.Len() == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("catalog not loaded\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	}
}
