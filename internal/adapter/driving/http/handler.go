package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/serenechat/serene/internal/adapter/driven/gateway/ws"
	"github.com/serenechat/serene/internal/core/domain"
	"github.com/serenechat/serene/internal/core/port"
	"github.com/serenechat/serene/internal/core/service"
)

type Handler struct {
	Relay    *service.RelayService
	Chat     *service.ChatService
	Hub      *ws.Hub
	Verifier port.IdentityVerifier

	allowedOrigin string
}

func NewHandler(relay *service.RelayService, chat *service.ChatService, hub *ws.Hub, verifier port.IdentityVerifier, allowedOrigin string) *Handler {
	return &Handler{
		Relay:         relay,
		Chat:          chat,
		Hub:           hub,
		Verifier:      verifier,
		allowedOrigin: allowedOrigin,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/ws", h.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(h.requireIdentity)
		r.Post("/api/messages", h.PostMessage)
	})

	return r
}

type ctxKey int

const ctxKeyUserID ctxKey = iota

// requireIdentity resolves the Authorization bearer token to a verified user
// id and stores it on the request context.
func (h *Handler) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		var token string
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}

		userID, err := h.Verifier.Verify(token)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, userID)))
	})
}

func userIDFrom(ctx context.Context) (domain.UserID, bool) {
	userID, ok := ctx.Value(ctxKeyUserID).(domain.UserID)
	return userID, ok
}

type postMessageRequest struct {
	ReceiverID domain.UserID `json:"receiverId"`
	Content    string        `json:"content"`
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	senderID, ok := userIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.Chat.SendMessage(r.Context(), senderID, req.ReceiverID, req.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		log.Error().Err(err).Msg("Failed to encode message response")
	}
}
