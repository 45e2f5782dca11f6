// Package recoverer turns handler panics into a logged 500 error envelope.
package recoverer

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/vadimbarashkov/url-shortener-client/pkg/response"
)

func New(logger *slog.Logger) func(http.Handler) http.Handler {
	const op = "middleware.recoverer.New"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}

					logger.Error(
						"something went wrong, panic occurred",
						slog.Group(op, slog.Any("err", rvr), slog.String("path", r.URL.Path)),
					)

					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, response.ServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
