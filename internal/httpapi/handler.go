package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/nexus-im/dm/internal/apperr"
	"github.com/nexus-im/dm/internal/chat"
	"github.com/nexus-im/dm/internal/identity"
	"github.com/nexus-im/dm/store/conversation"
	"github.com/nexus-im/dm/store/message"
	"github.com/nexus-im/dm/store/user"
)

const maxBodyBytes = 64 << 10

// IdentityResolver maps a bearer token to the caller's profile.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*user.Profile, error)
}

// Chat is the conversation lifecycle exposed over HTTP.
type Chat interface {
	StartConversation(ctx context.Context, callerID, receiverID string) (*conversation.Conversation, bool, error)
	GetConversation(ctx context.Context, callerID, conversationID string) (*conversation.Conversation, error)
	SendMessage(ctx context.Context, callerID, conversationID, text string) (*message.Message, error)
	ListMessages(ctx context.Context, callerID, conversationID string) ([]*message.Message, error)
	ListConversations(ctx context.Context, callerID string) (*chat.ConversationList, error)
	UnreadCount(ctx context.Context, callerID string) (int, error)
	DeleteConversation(ctx context.Context, callerID, conversationID string) (*chat.DeleteResult, error)
}

// Handler serves the chat API.
type Handler struct {
	chat     Chat
	identity IdentityResolver
	login    *LoginHandler
	mux      *http.ServeMux
}

// NewHandler wires routes. login may be nil to disable POST /api/login.
func NewHandler(c Chat, resolver IdentityResolver, login *LoginHandler) *Handler {
	h := &Handler{chat: c, identity: resolver, login: login, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /conversations", h.authenticated(h.handleStartConversation))
	h.mux.HandleFunc("GET /conversations", h.authenticated(h.handleListConversations))
	h.mux.HandleFunc("GET /conversations/unread-count", h.authenticated(h.handleUnreadCount))
	h.mux.HandleFunc("GET /conversations/{id}", h.authenticated(h.handleGetConversation))
	h.mux.HandleFunc("DELETE /conversations/{id}", h.authenticated(h.handleDeleteConversation))
	h.mux.HandleFunc("GET /conversations/{id}/messages", h.authenticated(h.handleListMessages))
	h.mux.HandleFunc("POST /conversations/{id}/messages", h.authenticated(h.handleSendMessage))

	if login != nil {
		h.mux.Handle("POST /api/login", login)
	}

	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			jww.WARN.Printf("health check write error: %v", err)
		}
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type authedHandler func(w http.ResponseWriter, r *http.Request, caller user.Profile)

// authenticated resolves the caller once and stores the profile on the
// request context for the rest of the request.
func (h *Handler) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := h.identity.Resolve(r.Context(), identity.TokenFromRequest(r))
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				jww.ERROR.Printf("httpapi: identity lookup failed %s %s: %+v", r.Method, r.URL.Path, err)
			}
			writeError(w, err)
			return
		}
		r = r.WithContext(identity.WithProfile(r.Context(), profile))
		next(w, r, *profile)
	}
}

type conversationBody struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	LastMessageID *string   `json:"lastMessageId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	UnreadCount   *int      `json:"unreadCount,omitempty"`
}

func newConversationBody(c *conversation.Conversation) conversationBody {
	return conversationBody{
		ID:            c.ID,
		Participants:  c.Participants(),
		LastMessageID: c.LastMessageID,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func (h *Handler) handleStartConversation(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	var req struct {
		ReceiverID string `json:"receiverId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	convo, created, err := h.chat.StartConversation(r.Context(), caller.ID, req.ReceiverID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, newConversationBody(convo))
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	list, err := h.chat.ListConversations(r.Context(), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]conversationBody, 0, len(list.Conversations))
	for _, s := range list.Conversations {
		body := newConversationBody(s.Conversation)
		unread := s.UnreadCount
		body.UnreadCount = &unread
		items = append(items, body)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": items,
		"totalUnread":   list.TotalUnread,
	})
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	n, err := h.chat.UnreadCount(r.Context(), caller.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	convo, err := h.chat.GetConversation(r.Context(), caller.ID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newConversationBody(convo))
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	res, err := h.chat.DeleteConversation(r.Context(), caller.ID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversationId":  res.ConversationID,
		"messagesDeleted": res.MessagesDeleted,
	})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	msgs, err := h.chat.ListMessages(r.Context(), caller.ID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request, caller user.Profile) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.chat.SendMessage(r.Context(), caller.ID, r.PathValue("id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, apperr.InvalidArgument("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		jww.WARN.Printf("httpapi: response write error: %v", err)
	}
}

// writeError writes the client-safe form of err. Internal causes never reach
// the response body.
func writeError(w http.ResponseWriter, err error) {
	pub := apperr.Public(err)
	writeJSON(w, apperr.HTTPStatus(pub.Kind), map[string]*apperr.Error{"error": pub})
}
