package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/chatrelay/internal/apperror"
	"github.com/sakif/chatrelay/internal/auth"
	"github.com/sakif/chatrelay/internal/model"
	"github.com/sakif/chatrelay/internal/response"
	"github.com/sakif/chatrelay/internal/service"
)

// ChatHandler serves the chat page and its JSON endpoint.
type ChatHandler struct {
	chat   *service.ChatService
	pages  *Pages
	logger *slog.Logger
}

// NewChatHandler wires a ChatHandler.
func NewChatHandler(chat *service.ChatService, pages *Pages, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, pages: pages, logger: logger}
}

// HandleChatPage serves the chat UI. Routing guarantees a session.
//
// HTTP: GET /chat
func (h *ChatHandler) HandleChatPage(w http.ResponseWriter, r *http.Request) {
	h.pages.Render(w, r, http.StatusOK, "chat", pageData{Title: "Chat"})
}

// HandleChatAPI relays one message and answers {"response": "..."}.
//
// HTTP: POST /chat_api   form: message
func (h *ChatHandler) HandleChatAPI(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, apperror.Unauthorized("Unauthorized"))
		return
	}

	message := r.FormValue("message")
	reply, err := h.chat.Send(r.Context(), message)
	if err != nil {
		h.logger.Info("chat request failed",
			slog.Int64("userID", sess.UserID),
			slog.String("error", err.Error()),
		)
		response.Error(w, err)
		return
	}

	response.JSON(w, http.StatusOK, model.ChatExchange{Message: message, Reply: reply})
}
