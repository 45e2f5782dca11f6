package devserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/vadimbarashkov/url-shortener-client/internal/channel"
	"github.com/vadimbarashkov/url-shortener-client/internal/entity"
	"github.com/vadimbarashkov/url-shortener-client/pkg/response"
)

type ctxKey struct{}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type authResponse struct {
	JWT  string      `json:"jwt"`
	User entity.User `json:"user"`
}

type createURLData struct {
	OriginalURL    string     `json:"originalUrl" validate:"required,url"`
	CustomCode     string     `json:"customCode" validate:"omitempty,shortcode,notreserved"`
	ExpirationDate *time.Time `json:"expirationDate" validate:"omitempty,future"`
}

type createURLRequest struct {
	Data createURLData `json:"data" validate:"required"`
}

type clicksResponse struct {
	Clicks int64 `json:"clicks"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKey{}).(int64)
	return id
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Unauthorized)
			return
		}

		userID, err := s.tokens.Verify(raw)
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, response.Unauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

// decode renders the error response itself and reports whether the handler may go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		render.Status(r, http.StatusBadRequest)
		if errors.Is(err, io.EOF) {
			render.JSON(w, r, response.EmptyRequestBody)
		} else {
			render.JSON(w, r, response.InvalidRequestBody)
		}
		return false
	}

	if err := s.validate.Struct(v); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Validation(err))
		return false
	}

	return true
}

func serverError(w http.ResponseWriter, r *http.Request, err error) {
	httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, response.ServerError)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, status int, u *entity.User) {
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		serverError(w, r, err)
		return
	}

	render.Status(r, status)
	render.JSON(w, r, authResponse{JWT: token, User: *u})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.store.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Err(http.StatusBadRequest, response.NameValidation, "Invalid identifier or password"))
		return
	}

	s.issue(w, r, http.StatusOK, u)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	u, err := s.store.CreateUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrUserExists) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Err(http.StatusBadRequest, response.NameApplication, "Email or Username are already taken"))
			return
		}

		serverError(w, r, err)
		return
	}

	s.issue(w, r, http.StatusOK, u)
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.User(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Unauthorized)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, u)
}

func (s *Server) listURLs(w http.ResponseWriter, r *http.Request) {
	urls := s.store.ListURLs(r.Context(), userIDFrom(r.Context()))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.List(urls, len(urls)))
}

func (s *Server) createURL(w http.ResponseWriter, r *http.Request) {
	var req createURLRequest
	if !s.decode(w, r, &req) {
		return
	}

	ownerID := userIDFrom(r.Context())

	url, err := s.store.CreateURL(r.Context(), ownerID, req.Data.OriginalURL, req.Data.CustomCode, req.Data.ExpirationDate)
	if err != nil {
		if errors.Is(err, entity.ErrShortCodeExists) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, response.Err(http.StatusConflict, response.NameConflict, "Custom code already in use"))
			return
		}

		serverError(w, r, err)
		return
	}

	s.hub.Publish(ownerID, channel.EventURLCreated, url)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.Data(url))
}

func (s *Server) deleteURL(w http.ResponseWriter, r *http.Request) {
	id, ok := s.urlID(w, r)
	if !ok {
		return
	}

	ownerID := userIDFrom(r.Context())

	url, err := s.store.DeleteURL(r.Context(), ownerID, id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	s.hub.Publish(ownerID, channel.EventURLDeleted, channel.RecordDeleted{URLID: url.ID})

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.Data(url))
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	id, ok := s.urlID(w, r)
	if !ok {
		return
	}

	a, err := s.store.Analytics(r.Context(), userIDFrom(r.Context()), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.Data(a))
}

func (s *Server) recordClick(w http.ResponseWriter, r *http.Request) {
	url, ok := s.click(w, r)
	if !ok {
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.Data(clicksResponse{Clicks: url.Clicks}))
}

// redirect resolves a short code the way a browser visit would.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request) {
	url, ok := s.click(w, r)
	if !ok {
		return
	}

	http.Redirect(w, r, url.OriginalURL, http.StatusFound)
}

func (s *Server) click(w http.ResponseWriter, r *http.Request) (*entity.URL, bool) {
	url, ownerID, err := s.store.RecordClick(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.storeError(w, r, err)
		return nil, false
	}

	s.hub.Publish(ownerID, channel.EventClickUpdate, channel.ClickUpdate{URLID: url.ID, Clicks: url.Clicks})

	return url, true
}

func (s *Server) checkAvailability(w http.ResponseWriter, r *http.Request) {
	available := s.store.CodeAvailable(r.Context(), chi.URLParam(r, "code"))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.Data(availabilityResponse{Available: available}))
}

func (s *Server) urlID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.NotFound)
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrURLNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.NotFound)
	case errors.Is(err, ErrURLExpired):
		render.Status(r, http.StatusGone)
		render.JSON(w, r, response.Err(http.StatusGone, response.NameGone, "Short URL has expired"))
	default:
		serverError(w, r, err)
	}
}
