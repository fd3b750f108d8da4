package moderation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/streamcart/livechat/auth"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/persistence"
	"github.com/streamcart/livechat/types"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// Gateway is the request/response moderation surface. It operates on the durable store
// only and never touches the broadcaster's in-memory state; the ban checker's cache TTL
// bounds how long the live feed lags behind a fresh ban.
type Gateway struct {
	store     persistence.Store
	auth      auth.RequestAuthenticator
	ownership auth.OwnershipResolver

	// AdminUser may moderate any stream, bypassing the ownership check.
	adminUser string
}

func NewGateway(store persistence.Store, authenticator auth.RequestAuthenticator, ownership auth.OwnershipResolver, adminUser string) *Gateway {
	return &Gateway{
		store:     store,
		auth:      authenticator,
		ownership: ownership,
		adminUser: adminUser,
	}
}

// Routes mounts the moderation endpoints on the given router.
func (g *Gateway) Routes(router *mux.Router) {
	router.HandleFunc("/ban", g.handleBan).Methods(http.MethodPost)
	router.HandleFunc("/ban", g.handleUnban).Methods(http.MethodDelete)
	router.HandleFunc("/ban", g.handleListBans).Methods(http.MethodGet)
	router.HandleFunc("/message", g.handlePostMessage).Methods(http.MethodPost)
	router.HandleFunc("/message", g.handleListMessages).Methods(http.MethodGet)
	router.HandleFunc("/message/{id}", g.handleDeleteMessage).Methods(http.MethodDelete)
}

func (g *Gateway) authenticate(r *http.Request) (*types.Identity, error) {
	identity, err := g.auth.Authenticate(r)
	if err != nil || identity == nil {
		return nil, ErrUnauthenticated
	}
	return identity, nil
}

// checkOwner verifies the authenticated requester owns the stream.
func (g *Gateway) checkOwner(r *http.Request, identity *types.Identity, streamId string) error {
	if g.adminUser != "" && identity.UserId == g.adminUser {
		return nil
	}
	owns, err := g.ownership.Owns(r.Context(), identity.UserId, streamId)
	if err != nil {
		return err
	}
	if !owns {
		return ErrForbidden
	}
	return nil
}

// requireOwner authenticates the request and verifies the requester owns the stream.
func (g *Gateway) requireOwner(r *http.Request, streamId string) (*types.Identity, error) {
	identity, err := g.authenticate(r)
	if err != nil {
		return nil, err
	}
	if err := g.checkOwner(r, identity, streamId); err != nil {
		return nil, err
	}
	return identity, nil
}

type banRequest struct {
	StreamId  string     `json:"stream_id"`
	UserId    string     `json:"user_id"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (g *Gateway) handleBan(w http.ResponseWriter, r *http.Request) {
	req := banRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidf("malformed request body"))
		return
	}
	if strings.TrimSpace(req.StreamId) == "" || strings.TrimSpace(req.UserId) == "" {
		writeError(w, invalidf("stream_id and user_id are required"))
		return
	}
	requester, err := g.requireOwner(r, req.StreamId)
	if err != nil {
		writeError(w, err)
		return
	}
	ban := types.BanRecord{
		StreamId:       req.StreamId,
		UserId:         req.UserId,
		BannedByUserId: requester.UserId,
		Reason:         req.Reason,
		ExpiresAt:      req.ExpiresAt,
		IsActive:       true,
	}
	// upsert: re-banning refreshes reason and expiry, no duplicate records
	if err := g.store.UpsertBan(ban); err != nil {
		globals.AppLogger.Error("could not upsert ban", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"banned_user": ban})
}

func (g *Gateway) handleUnban(w http.ResponseWriter, r *http.Request) {
	req := banRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidf("malformed request body"))
		return
	}
	if strings.TrimSpace(req.StreamId) == "" || strings.TrimSpace(req.UserId) == "" {
		writeError(w, invalidf("stream_id and user_id are required"))
		return
	}
	if _, err := g.requireOwner(r, req.StreamId); err != nil {
		writeError(w, err)
		return
	}
	// deactivating a non-existent ban is a no-op, unban is idempotent
	if err := g.store.DeactivateBan(req.StreamId, req.UserId); err != nil {
		globals.AppLogger.Error("could not deactivate ban", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (g *Gateway) handleListBans(w http.ResponseWriter, r *http.Request) {
	streamId := r.URL.Query().Get("stream_id")
	if streamId == "" {
		writeError(w, invalidf("stream_id is required"))
		return
	}
	if _, err := g.requireOwner(r, streamId); err != nil {
		writeError(w, err)
		return
	}
	bans, err := g.store.GetActiveBans(streamId)
	if err != nil {
		globals.AppLogger.Error("could not list bans", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"banned_users": bans})
}

type postMessageRequest struct {
	StreamId    string `json:"stream_id"`
	Body        string `json:"body"`
	DisplayName string `json:"display_name"`
}

// handlePostMessage persists a message directly, independent of the live broadcast.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	req := postMessageRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, invalidf("malformed request body"))
		return
	}
	identity, err := g.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.StreamId) == "" || strings.TrimSpace(req.Body) == "" {
		writeError(w, invalidf("stream_id and body are required"))
		return
	}
	displayName := req.DisplayName
	if displayName == "" {
		displayName = identity.DisplayName
	}
	now := time.Now()
	msg := types.ChatMessage{
		Id:          types.NewMessageId(now),
		StreamId:    req.StreamId,
		UserId:      identity.UserId,
		DisplayName: displayName,
		Body:        strings.TrimSpace(req.Body),
		Timestamp:   now,
	}
	if err := g.store.StoreMessage(msg); err != nil {
		globals.AppLogger.Error("could not store message", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": msg})
}

func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	streamId := r.URL.Query().Get("stream_id")
	if streamId == "" {
		writeError(w, invalidf("stream_id is required"))
		return
	}
	limit := defaultMessageLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			writeError(w, invalidf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	messages, err := g.store.GetMessageHistory(streamId, limit)
	if err != nil {
		globals.AppLogger.Error("could not list messages", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	// authenticate before the lookup so anonymous callers cannot probe which
	// message ids exist
	requester, err := g.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	msg, err := g.store.GetMessage(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := g.checkOwner(r, requester, msg.StreamId); err != nil {
		writeError(w, err)
		return
	}
	// soft delete only, the record stays retrievable by id for audit
	if err := g.store.SoftDeleteMessage(id, requester.UserId, time.Now()); err != nil {
		globals.AppLogger.Error("could not soft-delete message", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
