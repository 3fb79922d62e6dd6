// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// ValidateUUIDParam returns middleware that rejects requests whose URL parameter param is not
// a UUID. Rejections use the same 400 body as any other validation failure, with the
// parameter name as the field key.
//
//	r.Route("/{uuid}", func(r chi.Router) {
//	    r.Use(middleware.ValidateUUIDParam("uuid"))
//	    r.Post("/confirm", handler.ConfirmTransaction)
//	})
func ValidateUUIDParam(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, param)

			msg := ""
			switch {
			case id == "":
				msg = "is required"
			case validation.ValidateUUID(id) != nil:
				msg = "must be a UUID"
			}
			if msg != "" {
				response.RespondError(w, http.StatusBadRequest, "validation failed", map[string]string{param: msg})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
