package middleware

import (
	"net/http"

	"github.com/rpattn/entityapi/internal/entityloader"
	"github.com/rpattn/entityapi/internal/repository"
)

// DataLoaderMiddleware attaches a fresh entity loader to every request.
func DataLoaderMiddleware(store repository.GraphStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.NewEntityLoader(store)
			next.ServeHTTP(w, r.WithContext(entityloader.WithLoader(r.Context(), loader)))
		})
	}
}
