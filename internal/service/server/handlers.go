package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"secure_chat/internal/auth"
	"secure_chat/internal/cryptographic/keys"
	"secure_chat/internal/model"
	"secure_chat/internal/utils/log"
)

const (
	defaultThreadLimit = 50
	maxThreadLimit     = 200
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// authedHandler is a handler that needs to know who the verified caller is,
// not just that a valid token was presented.
type authedHandler func(claims *auth.Claims, w http.ResponseWriter, r *http.Request)

// requireAuth guards the REST surface with the same bearer tokens the
// socket uses and hands the verified claims to the handler.
func (s *RelayServer) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(token) > len(prefix) && token[:len(prefix)] == prefix {
			token = token[len(prefix):]
		}
		claims, err := auth.Verify(s.jwtSecret, token)
		if err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}
		next(claims, w, r)
	}
}

// callerIdentities lists the alias forms the verified token covers.
func callerIdentities(claims *auth.Claims) []string {
	return (&model.Presence{UserID: claims.UserID, Email: claims.Email}).Identities()
}

// GetPublicKey serves the latest published key for an identity, preferring
// the presence cache and falling through to the durable store. The response
// also reports whether the identity currently holds a live connection.
func (s *RelayServer) GetPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := mux.Vars(r)["identity"]

		key := s.lookupPublicKey(identity)
		if key == "" {
			http.Error(w, "no key published for identity", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"identity":  identity,
			"publicKey": key,
			"online":    s.presence.Online(identity),
		})
	}
}

// PutPublicKey publishes a new key. A caller can only publish under an
// identity its own token covers.
func (s *RelayServer) PutPublicKey() authedHandler {
	type body struct {
		PublicKey string `json:"publicKey"`
	}

	return func(claims *auth.Claims, w http.ResponseWriter, r *http.Request) {
		identity := mux.Vars(r)["identity"]
		if !slices.Contains(callerIdentities(claims), identity) {
			http.Error(w, "cannot publish a key for another identity", http.StatusForbidden)
			return
		}

		var b body
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		if _, err := keys.Decode(b.PublicKey); err != nil {
			if errors.Is(err, keys.ErrKeyFormat) {
				http.Error(w, "malformed public key", http.StatusBadRequest)
				return
			}
			http.Error(w, "publish key failed", http.StatusInternalServerError)
			return
		}

		if s.userRepo != nil {
			if err := s.userRepo.UpsertPublicKey(r.Context(), identity, b.PublicKey); err != nil {
				log.Error("publish key failed", zap.String("identity", identity), zap.Error(err))
				http.Error(w, "publish key failed", http.StatusInternalServerError)
				return
			}
		}
		s.presence.SetPublicKey(identity, b.PublicKey)
		s.cachePublicKey(r.Context(), identity, b.PublicKey)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}
}

// GetThread serves one page of message history between two identities,
// oldest first, for the client's polling loop. The caller must be one of
// the two participants; a valid token for some third identity is not enough
// to read a conversation.
func (s *RelayServer) GetThread() authedHandler {
	return func(claims *auth.Claims, w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			http.Error(w, "no history store configured", http.StatusNotImplemented)
			return
		}

		vars := mux.Vars(r)
		a, b := vars["a"], vars["b"]

		mine := callerIdentities(claims)
		if !slices.Contains(mine, a) && !slices.Contains(mine, b) {
			http.Error(w, "not a participant in this thread", http.StatusForbidden)
			return
		}

		var before time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			parsed, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				http.Error(w, "invalid before timestamp", http.StatusBadRequest)
				return
			}
			before = parsed
		}

		limit := int64(defaultThreadLimit)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if parsed > maxThreadLimit {
				parsed = maxThreadLimit
			}
			limit = parsed
		}

		page, err := s.history.QueryThread(r.Context(), a, b, before, limit)
		if err != nil {
			log.Error("thread query failed", zap.String("a", a), zap.String("b", b), zap.Error(err))
			http.Error(w, "thread query failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}
}
