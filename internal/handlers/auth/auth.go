package auth

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/auth"
	"gitlab.com/encodefarm.net/internal/domain"
	"gitlab.com/encodefarm.net/internal/handlers"
	"gitlab.com/encodefarm.net/internal/handlers/response"
)

type Handler struct {
	authService auth.IAuthService
	logger      primary.Logger
}

func NewHandler(authService auth.IAuthService, logger primary.Logger) *Handler {
	return &Handler{
		authService: authService,
		logger:      logger,
	}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
}

// Login exchanges the admin credentials for a bearer token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, response.ErrorMessage{
			Message:    "Invalid request",
			StatusCode: http.StatusBadRequest,
		})
		return
	}

	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		response.WriteError(w, response.ErrorMessage{
			Message:    err.Error(),
			StatusCode: handlers.StatusFor(err),
		})
		return
	}
	h.logger.Info("Admin logged in", "username", req.Username)
	response.WriteSuccess(w, resp)
}
