package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"chat-backend/internal/apperr"
	"chat-backend/internal/auth"
	"chat-backend/internal/chat"
	"chat-backend/internal/storage"
	"chat-backend/internal/storage/zapadapter"
)

// connectionHeader names the sender's realtime connection, which is then
// left out of the message broadcast
const connectionHeader = "X-Connection-Id"

type handler struct {
	logger  *zap.SugaredLogger
	gate    *auth.Gate
	chats   *chat.Service
	parsers fastjson.ParserPool
}

type errorPayload struct {
	Error string `json:"error"`
}

type authPayload struct {
	User  storage.User `json:"user"`
	Token string       `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}

// writeError maps error kinds to status codes. Store failures are logged and
// answered with a generic message.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeMessage(w, http.StatusBadRequest, apperr.Message(err))
	case errors.Is(err, apperr.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, apperr.Message(err))
	case errors.Is(err, apperr.ErrNotFound):
		writeMessage(w, http.StatusNotFound, apperr.Message(err))
	case errors.Is(err, apperr.ErrConflict):
		writeMessage(w, http.StatusConflict, apperr.Message(err))
	default:
		zapadapter.For(r.Context(), h.logger).Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// parse returns the request body parsed by a pooled parser. The value is only
// valid until release is called.
func (h *handler) parse(r *http.Request) (v *fastjson.Value, release func(), err error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, func() {}, err
	}

	p := h.parsers.Get()
	v, err = p.ParseBytes(body)
	if err != nil {
		h.parsers.Put(p)
		return nil, func() {}, err
	}
	return v, func() { h.parsers.Put(p) }, nil
}

// stringField returns the string under name, empty if missing or not a string
func stringField(v *fastjson.Value, name string) string {
	f := v.Get(name)
	if f == nil || f.Type() != fastjson.TypeString {
		return ""
	}
	return string(f.GetStringBytes())
}

// idValue reads a positive id given as a number or a numeric string
func idValue(f *fastjson.Value) (int64, bool) {
	var id int64
	var err error
	switch f.Type() {
	case fastjson.TypeNumber:
		id, err = f.Int64()
	case fastjson.TypeString:
		id, err = strconv.ParseInt(string(f.GetStringBytes()), 10, 64)
	default:
		return 0, false
	}
	return id, err == nil && id > 0
}

func idField(v *fastjson.Value, name string) (int64, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return 0, apperr.New(apperr.ErrInvalidArgument, "Missing Field \""+name+"\"")
	}

	id, ok := idValue(f)
	if !ok {
		return 0, apperr.New(apperr.ErrInvalidArgument, "Field \""+name+"\" must be a valid id greater than zero")
	}
	return id, nil
}

// idList reads ids from a JSON array or from a string holding one
func idList(v *fastjson.Value, name string) ([]int64, error) {
	f := v.Get(name)
	if f == nil || f.Type() == fastjson.TypeNull {
		return nil, apperr.New(apperr.ErrInvalidArgument, "Please provide group name and users.")
	}

	if f.Type() == fastjson.TypeString {
		parsed, err := fastjson.ParseBytes(f.GetStringBytes())
		if err != nil {
			return nil, apperr.New(apperr.ErrInvalidArgument, "Field \""+name+"\" must be an array")
		}
		f = parsed
	}

	items, err := f.Array()
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalidArgument, "Field \""+name+"\" must be an array")
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, ok := idValue(item)
		if !ok {
			return nil, apperr.New(apperr.ErrInvalidArgument, "Each item in \""+name+"\" must be a valid user id")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// register handles POST /api/auth/register
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	v, release, err := h.parse(r)
	defer release()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed JSON")
		return
	}

	u, token, err := h.gate.Register(r.Context(), auth.RegisterInput{
		Name:     stringField(v, "name"),
		Email:    stringField(v, "email"),
		Password: stringField(v, "password"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, authPayload{User: u, Token: token})
}

// login handles POST /api/auth/login
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	v, release, err := h.parse(r)
	defer release()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed JSON")
		return
	}

	u, token, err := h.gate.Login(r.Context(), auth.LoginInput{
		Email:    stringField(v, "email"),
		Password: stringField(v, "password"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, authPayload{User: u, Token: token})
}

// searchUsers handles GET /api/users?search=
func (h *handler) searchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.gate.SearchUsers(r.Context(), userIDFromContext(r.Context()), r.URL.Query().Get("search"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// accessChat handles POST /api/chats
func (h *handler) accessChat(w http.ResponseWriter, r *http.Request) {
	v, release, err := h.parse(r)
	defer release()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed JSON")
		return
	}

	other, err := idField(v, "userId")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "UserId parameter not sent with request")
		return
	}

	c, created, err := h.chats.AccessDirectChat(r.Context(), userIDFromContext(r.Context()), other)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// fetchChats handles GET /api/chats
func (h *handler) fetchChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chats.FetchChats(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// createGroupChat handles POST /api/chats/group
func (h *handler) createGroupChat(w http.ResponseWriter, r *http.Request) {
	v, release, err := h.parse(r)
	defer release()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed JSON")
		return
	}

	name := stringField(v, "name")
	if name == "" {
		writeMessage(w, http.StatusBadRequest, "Please provide group name and users.")
		return
	}

	members, err := idList(v, "users")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.chats.CreateGroupChat(r.Context(), userIDFromContext(r.Context()), name, members)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// renameGroupChat handles PUT /api/chats/rename
func (h *handler) renameGroupChat(w http.ResponseWriter, r *http.Request) {
	v, release, err := h.parse(r)
	defer release()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed JSON")
		return
	}

	chatID, err := idField(v, "chatId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.chats.RenameGroupChat(r.Context(), chatID, stringField(v, "chatName"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// membership builds the handlers of PUT /api/chats/groupadd and /api/chats/groupremove
func (h *handler) membership(op func(ctx context.Context, chatID, user int64) (storage.Chat, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, release, err := h.parse(r)
		defer release()
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "Malformed JSON")
			return
		}

		chatID, err := idField(v, "chatId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		user, err := idField(v, "userId")
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		c, err := op(r.Context(), chatID, user)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// sendMessage handles POST /api/messages
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	v, release, err := h.parse(r)
	defer release()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Malformed JSON")
		return
	}

	content := stringField(v, "content")
	chatID, err := idField(v, "chatId")
	if err != nil || content == "" {
		writeMessage(w, http.StatusBadRequest, "Invalid data passed into request")
		return
	}

	msg, err := h.chats.SendMessage(r.Context(), userIDFromContext(r.Context()), chatID, content, r.Header.Get(connectionHeader))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// allMessages handles GET /api/messages/{chatId}
func (h *handler) allMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatId"), 10, 64)
	if err != nil || chatID < 1 {
		writeMessage(w, http.StatusBadRequest, "Invalid chat id")
		return
	}

	messages, err := h.chats.ListMessages(r.Context(), chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "Server is up and running!")
}
