// Package sandbox is a local stand-in for the two systems the e2e
// features drive: the notes REST API and the Flutter counter app. It
// speaks the same HTTP contract so features can run without network
// access.
package sandbox

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/kuitang/flutter-notes-e2e/internal/apiclient"
	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/ratelimit"
)

// APIPrefix is where the REST API is mounted.
const APIPrefix = "/notes/api"

// AppPath is where the counter app is served.
const AppPath = "/app/"

// Categories a note may be filed under.
var Categories = []string{"Home", "Work", "Personal"}

//go:embed static
var staticFiles embed.FS

const msgUnauthorized = "Access token is not valid or has expired, you will need to login"

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Server serves the sandbox API and app.
type Server struct {
	store   *Store
	limiter *ratelimit.RateLimiter
}

// NewServer returns a Server over store, limiting clients per limits.
func NewServer(store *Store, limits ratelimit.Config) *Server {
	return &Server{store: store, limiter: ratelimit.NewRateLimiter(limits)}
}

// Close stops background work. The store is left open.
func (s *Server) Close() {
	s.limiter.Stop()
}

// Handler returns the routed, logged handler.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /health-check", s.healthCheck)
	api.HandleFunc("POST /users/register", s.register)
	api.HandleFunc("POST /users/login", s.login)
	api.HandleFunc("GET /users/profile", s.authed(s.profile))
	api.HandleFunc("POST /users/change-password", s.authed(s.changePassword))
	api.HandleFunc("DELETE /users/logout", s.authed(s.logout))
	api.HandleFunc("POST /notes", s.authed(s.createNote))
	api.HandleFunc("GET /notes", s.authed(s.listNotes))
	api.HandleFunc("GET /notes/{id}", s.authed(s.getNote))
	api.HandleFunc("PUT /notes/{id}", s.authed(s.updateNote))
	api.HandleFunc("PATCH /notes/{id}", s.authed(s.completeNote))
	api.HandleFunc("DELETE /notes/{id}", s.authed(s.deleteNote))
	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusNotFound, "Route not found", nil)
	})

	limited := ratelimit.Middleware(s.limiter, func(r *http.Request) string {
		return r.Header.Get(apiclient.AuthHeader)
	})(api)

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}

	mux := http.NewServeMux()
	mux.Handle(APIPrefix+"/", http.StripPrefix(APIPrefix, limited))
	mux.Handle(AppPath, http.StripPrefix(AppPath, http.FileServerFS(static)))
	mux.Handle("GET /{$}", http.RedirectHandler(AppPath, http.StatusFound))

	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("sandbox", mux))
}

type userHandler func(w http.ResponseWriter, r *http.Request, u User)

func (s *Server) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(apiclient.AuthHeader)
		if token == "" {
			writeEnvelope(w, http.StatusUnauthorized, "No authentication token specified in x-auth-token header", nil)
			return
		}
		u, err := s.store.UserForToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				obs.From(r.Context()).Error("token_lookup_failed", "pkg", "sandbox", "error", err)
			}
			writeEnvelope(w, http.StatusUnauthorized, msgUnauthorized, nil)
			return
		}
		next(w, r, u)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, "Notes API is Running", nil)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case !between(req.Name, 4, 30):
		writeEnvelope(w, http.StatusBadRequest, "User name must be between 4 and 30 characters", nil)
		return
	case !validEmail(req.Email):
		writeEnvelope(w, http.StatusBadRequest, "A valid email address is required", nil)
		return
	case !between(req.Password, 6, 30):
		writeEnvelope(w, http.StatusBadRequest, "Password must be between 6 and 30 characters", nil)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		internalError(w, r, "hash_password_failed", err)
		return
	}
	u, err := s.store.CreateUser(r.Context(), strings.TrimSpace(req.Name), req.Email, hash)
	if errors.Is(err, ErrEmailTaken) {
		writeEnvelope(w, errs.HTTPStatus(errs.CodeOf(err)), "An account already exists with the same email address", nil)
		return
	}
	if err != nil {
		internalError(w, r, "create_user_failed", err)
		return
	}
	writeEnvelope(w, http.StatusCreated, "User account created successfully", u)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginData struct {
	User
	Token string `json:"token"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if !validEmail(req.Email) || req.Password == "" {
		writeEnvelope(w, http.StatusBadRequest, "A valid email address and password are required", nil)
		return
	}
	u, err := s.store.UserByEmail(r.Context(), req.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		internalError(w, r, "lookup_user_failed", err)
		return
	}
	if err != nil || !VerifyPassword(req.Password, u.PasswordHash) {
		writeEnvelope(w, http.StatusUnauthorized, "Incorrect email address or password", nil)
		return
	}
	token, err := s.store.IssueToken(r.Context(), u.ID)
	if err != nil {
		internalError(w, r, "issue_token_failed", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Login successful", loginData{User: u, Token: token})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request, u User) {
	writeEnvelope(w, http.StatusOK, "Profile successful", u)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, u User) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	switch {
	case !between(req.NewPassword, 6, 30):
		writeEnvelope(w, http.StatusBadRequest, "New password must be between 6 and 30 characters", nil)
		return
	case req.NewPassword == req.CurrentPassword:
		writeEnvelope(w, http.StatusBadRequest, "The new password should be different from the current password", nil)
		return
	case !VerifyPassword(req.CurrentPassword, u.PasswordHash):
		writeEnvelope(w, http.StatusBadRequest, "The current password is incorrect", nil)
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		internalError(w, r, "hash_password_failed", err)
		return
	}
	if err := s.store.SetPasswordHash(r.Context(), u.ID, hash); err != nil {
		internalError(w, r, "set_password_failed", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "The password was successfully updated", nil)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, u User) {
	if err := s.store.RevokeToken(r.Context(), r.Header.Get(apiclient.AuthHeader)); err != nil {
		internalError(w, r, "revoke_token_failed", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "User has been successfully logged out", nil)
}

type noteRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Completed   *bool  `json:"completed"`
}

func (req noteRequest) validate(requireCompleted bool) string {
	switch {
	case !between(req.Title, 4, 100):
		return "Title must be between 4 and 100 characters"
	case !between(req.Description, 4, 1000):
		return "Description must be between 4 and 1000 characters"
	case !slices.Contains(Categories, req.Category):
		return "Category must be one of the categories: " + strings.Join(Categories, ", ")
	case requireCompleted && req.Completed == nil:
		return "Note completed status must be boolean"
	}
	return ""
}

func (req noteRequest) input() NoteInput {
	in := NoteInput{Title: req.Title, Description: req.Description, Category: req.Category}
	if req.Completed != nil {
		in.Completed = *req.Completed
	}
	return in
}

func (s *Server) createNote(w http.ResponseWriter, r *http.Request, u User) {
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(false); msg != "" {
		writeEnvelope(w, http.StatusBadRequest, msg, nil)
		return
	}
	n, err := s.store.CreateNote(r.Context(), u.ID, req.input())
	if err != nil {
		internalError(w, r, "create_note_failed", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully created", n)
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request, u User) {
	notes, err := s.store.ListNotes(r.Context(), u.ID)
	if err != nil {
		internalError(w, r, "list_notes_failed", err)
		return
	}
	writeEnvelope(w, http.StatusOK, "Notes successfully retrieved", notes)
}

func (s *Server) getNote(w http.ResponseWriter, r *http.Request, u User) {
	n, err := s.store.GetNote(r.Context(), u.ID, r.PathValue("id"))
	if s.noteError(w, r, err) {
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully retrieved", n)
}

func (s *Server) updateNote(w http.ResponseWriter, r *http.Request, u User) {
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	if msg := req.validate(true); msg != "" {
		writeEnvelope(w, http.StatusBadRequest, msg, nil)
		return
	}
	n, err := s.store.UpdateNote(r.Context(), u.ID, r.PathValue("id"), req.input())
	if s.noteError(w, r, err) {
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully Updated", n)
}

func (s *Server) completeNote(w http.ResponseWriter, r *http.Request, u User) {
	var req struct {
		Completed *bool `json:"completed"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Completed == nil {
		writeEnvelope(w, http.StatusBadRequest, "Note completed status must be boolean", nil)
		return
	}
	n, err := s.store.SetCompleted(r.Context(), u.ID, r.PathValue("id"), *req.Completed)
	if s.noteError(w, r, err) {
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully Updated", n)
}

func (s *Server) deleteNote(w http.ResponseWriter, r *http.Request, u User) {
	err := s.store.DeleteNote(r.Context(), u.ID, r.PathValue("id"))
	if s.noteError(w, r, err) {
		return
	}
	writeEnvelope(w, http.StatusOK, "Note successfully deleted", nil)
}

// noteError writes the response for a failed note lookup and reports
// whether it did.
func (s *Server) noteError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound):
		writeEnvelope(w, errs.HTTPStatus(errs.CodeOf(err)), "No note found with the supplied id", nil)
	default:
		internalError(w, r, "note_query_failed", err)
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "Invalid JSON: "+err.Error(), nil)
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, r *http.Request, event string, err error) {
	obs.From(r.Context()).Error(event, "pkg", "sandbox", "error", err)
	writeEnvelope(w, http.StatusInternalServerError, "Internal Error Server", nil)
}

func writeEnvelope(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: status < http.StatusBadRequest,
		Status:  status,
		Message: message,
		Data:    data,
	})
}

func between(s string, lo, hi int) bool {
	n := len([]rune(strings.TrimSpace(s)))
	return n >= lo && n <= hi
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		obs.Pkg("sandbox").Info("sandbox_listening", "addr", addr, "api", APIPrefix, "app", AppPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
