package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	ierr "3tcapital/ecfcore/internal/infrastructure/errors"
)

// PathID reads a positive integer route parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ierr.Newf("invalid %s %q", name, raw).
			WithHintf("%s must be a positive integer", name).
			Mark(ierr.ErrValidation)
	}
	return id, nil
}
