package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/jjudge-oj/authserver/internal/auth"
	"github.com/jjudge-oj/authserver/internal/logging"
	"github.com/jjudge-oj/authserver/internal/services"
	"github.com/jjudge-oj/authserver/internal/store"
)

// bcrypt ignores everything past 72 bytes.
const maxPasswordLength = 72

// AuthHandler provides the public registration and authentication endpoints.
type AuthHandler struct {
	authService *services.AuthService
	userService *services.UserService
	logger      logging.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, userService *services.UserService, logger logging.Logger) *AuthHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &AuthHandler{
		authService: authService,
		userService: userService,
		logger:      logger,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/authenticate", handler.Authenticate)
}

// UserRouter registers routes that require an identity.
func UserRouter(r chi.Router, handler *AuthHandler) {
	r.With(RequireAuth).Get("/me", handler.Me)
}

// Register creates a new USER account and returns a token for it.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.normalize()
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.authService.Register(r.Context(), services.Registration{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmailAlreadyExists) {
			writeError(w, http.StatusConflict, "email already exists")
			return
		}
		h.logFailure(r, "register failed", err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token})
}

// Authenticate verifies credentials and returns a token. An unknown email
// and a wrong password produce the same response.
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.authService.Login(r.Context(), services.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logFailure(r, "authenticate failed", err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token})
}

// Me returns the user bound to the request identity.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), identity.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logFailure(r, "load current user", err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// logFailure logs err at error level unless the client went away, which is
// logged at debug.
func (h *AuthHandler) logFailure(r *http.Request, msg string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		h.logger.Debug(r.Context(), msg, "reason", "request cancelled", "error", err)
		return
	}
	h.logger.Error(r.Context(), msg, "error", err)
}

type RegisterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

func (r *RegisterRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

type AuthenticationRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r AuthenticationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type AuthResponse struct {
	Token string `json:"token"`
}
