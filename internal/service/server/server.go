package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"secure_chat/internal/auth"
	"secure_chat/internal/history"
	"secure_chat/internal/model"
	"secure_chat/internal/presence"
	"secure_chat/internal/queue"
	userRepo "secure_chat/internal/repository/user"
	redisSvc "secure_chat/internal/service/redis"
	"secure_chat/internal/utils/log"
)

// published keys are shared across relay processes through Redis with a
// TTL, so a process that never saw an identity connect can still resolve
// its key without a durable store round trip
const keyCacheTTL = time.Hour

// keyCache is the slice of the Redis service the relay uses for published
// keys. Faked in tests.
type keyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type (
	// Options wires the relay's collaborators. Queue, History, Users and
	// Redis are optional; the relay degrades to best-effort delivery
	// without them.
	Options struct {
		Addr      string
		JWTSecret string
		Queue     queue.OfflineQueue
		History   history.Store
		Users     *userRepo.UserRepo
		Redis     *redisSvc.RedisService
	}

	RelayServer struct {
		addr      string
		jwtSecret string

		presence *presence.Directory
		router   *DeliveryRouter
		fanout   *Fanout
		queue    queue.OfflineQueue
		history  history.Store
		userRepo *userRepo.UserRepo
		cache    keyCache
		validate *validator.Validate

		// one in-flight drain per identity; duplicate online
		// announcements must not double-deliver queued messages
		drainMu  sync.Mutex
		draining map[string]bool

		httpServer *http.Server
	}

	// session is one websocket connection. gorilla/websocket allows a
	// single concurrent writer, so every push goes through the mutex.
	session struct {
		conn *websocket.Conn
		mu   sync.Mutex
	}
)

func (s *session) Push(frame *model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(frame)
}

func NewRelayServer(opts Options) *RelayServer {
	dir := presence.NewDirectory()

	var fanout *Fanout
	if opts.Redis != nil {
		fanout = NewFanout(opts.Redis, dir)
	}

	s := &RelayServer{
		addr:      opts.Addr,
		jwtSecret: opts.JWTSecret,
		presence:  dir,
		fanout:    fanout,
		queue:     opts.Queue,
		history:   opts.History,
		userRepo:  opts.Users,
		validate:  validator.New(),
		draining:  make(map[string]bool),
	}
	if opts.Redis != nil {
		s.cache = opts.Redis
	}
	var remote RemotePusher
	if fanout != nil {
		remote = fanout
	}
	s.router = NewDeliveryRouter(dir, opts.Queue, opts.History, remote)
	return s
}

// Run starts serving in the background. Shutdown stops it.
func (s *RelayServer) Run() {
	r := mux.NewRouter()

	r.HandleFunc("/init", s.HandleInitWS()).Methods(http.MethodGet)
	r.HandleFunc("/keys/{identity}", s.GetPublicKey()).Methods(http.MethodGet)
	r.HandleFunc("/keys/{identity}", s.requireAuth(s.PutPublicKey())).Methods(http.MethodPut)
	r.HandleFunc("/messages/{a}/{b}", s.requireAuth(s.GetThread())).Methods(http.MethodGet)

	s.httpServer = &http.Server{Addr: s.addr, Handler: r}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("relay server stopped", zap.Error(err))
		}
	}()
	log.Info("relay listening", zap.String("addr", s.addr))
}

func (s *RelayServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *RelayServer) HandleInitWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // relay sits behind its own auth, not origin checks
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.Verify(s.jwtSecret, r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "failed to upgrade", http.StatusInternalServerError)
			return
		}

		sess := &session{conn: conn}
		go s.processSession(claims, sess)
	}
}

func (s *RelayServer) processSession(claims *auth.Claims, sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			log.Debug("websocket closed", zap.String("user", claims.UserID), zap.Error(err))
			break
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Error("unmarshal frame failed", zap.Error(err))
			continue
		}

		switch frame.Type {
		case model.FrameOnline:
			s.handleOnline(claims, sess, frame.Presence)
		case model.FrameMessage:
			s.handleMessage(claims, sess, frame.Message)
		default:
			log.Debug("unknown frame type", zap.String("type", frame.Type))
		}
	}

	sess.conn.Close()
	removed := s.presence.MarkOffline(sess)
	if len(removed) > 0 {
		if s.fanout != nil {
			s.fanout.Unsubscribe(removed...)
		}
		s.broadcastPresence(sess, &model.Presence{
			UserID: claims.UserID,
			Email:  claims.Email,
			Online: false,
		})
	}
}

// handleOnline registers all identity forms of the authenticated user,
// publishes the announced key, and drains the offline queue exactly once.
// The identity is taken from the verified token, never from the payload.
func (s *RelayServer) handleOnline(claims *auth.Claims, sess *session, p *model.Presence) {
	announced := &model.Presence{UserID: claims.UserID, Email: claims.Email}
	if p != nil {
		announced.PublicKey = p.PublicKey
	}
	ids := announced.Identities()
	if len(ids) == 0 {
		return
	}

	s.presence.MarkOnline(ids, sess, announced.PublicKey)

	if announced.PublicKey != "" {
		ctx := context.TODO()
		for _, id := range ids {
			if s.userRepo != nil {
				if err := s.userRepo.UpsertPublicKey(ctx, id, announced.PublicKey); err != nil {
					log.Error("publish key failed", zap.String("identity", id), zap.Error(err))
				}
			}
			s.cachePublicKey(ctx, id, announced.PublicKey)
		}
	}

	if s.fanout != nil {
		s.fanout.Subscribe(context.Background(), ids...)
	}

	announced.Online = true
	s.broadcastPresence(sess, announced)

	s.drainOffline(sess, ids)
}

func (s *RelayServer) drainOffline(sess *session, ids []string) {
	if s.queue == nil {
		return
	}
	for _, id := range ids {
		s.drainMu.Lock()
		if s.draining[id] {
			s.drainMu.Unlock()
			continue
		}
		s.draining[id] = true
		s.drainMu.Unlock()

		go func(identity string) {
			defer func() {
				s.drainMu.Lock()
				delete(s.draining, identity)
				s.drainMu.Unlock()
			}()

			msgs, err := s.queue.DrainAll(context.TODO(), identity)
			if err != nil {
				log.Error("offline drain failed", zap.String("identity", identity), zap.Error(err))
				return
			}
			for _, msg := range msgs {
				if err := sess.Push(&model.Frame{Type: model.FrameMessage, Message: msg}); err != nil {
					log.Error("drain push failed", zap.String("identity", identity), zap.Error(err))
					return
				}
			}
		}(id)
	}
}

// handleMessage stamps, routes and acknowledges one inbound message. The
// sender identity is bound to the session's verified claims: a payload
// naming any identity the token does not cover is overwritten, so a client
// can never inject messages on someone else's behalf.
func (s *RelayServer) handleMessage(claims *auth.Claims, sender presence.Conn, msg *model.Message) {
	if msg == nil {
		return
	}

	allowed := (&model.Presence{UserID: claims.UserID, Email: claims.Email}).Identities()
	if !slices.Contains(allowed, msg.SenderID) {
		log.Debug("sender identity rewritten from claims",
			zap.String("claimed", msg.SenderID), zap.String("verified", allowed[0]))
		msg.SenderID = allowed[0]
	}

	if err := s.validate.Struct(msg); err != nil {
		log.Debug("rejecting malformed message", zap.Error(err))
		_ = sender.Push(&model.Frame{Type: model.FrameAck, Ack: &model.Ack{Error: "missing required fields"}})
		return
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = nowUTC()

	// freeze the receiver's current key on the message if the sender did
	// not; history must stay decryptable through later key changes
	if msg.ReceiverPublicKey == "" {
		msg.ReceiverPublicKey = s.lookupPublicKey(msg.ReceiverID)
	}

	status := s.router.Route(context.TODO(), msg)

	ack := &model.Ack{MessageID: msg.ID, Status: status}
	if err := sender.Push(&model.Frame{Type: model.FrameAck, Ack: ack}); err != nil {
		log.Debug("ack push failed", zap.Error(err))
		return
	}
	if status == model.StatusDelivered {
		_ = sender.Push(&model.Frame{Type: model.FrameDelivered, Ack: ack})
	}
}

// lookupPublicKey consults the in-process presence cache, then the shared
// Redis cache, then the durable key store. Hits from the slower tiers are
// promoted into the faster ones.
func (s *RelayServer) lookupPublicKey(identity string) string {
	if key := s.presence.LookupPublicKey(identity); key != "" {
		return key
	}
	ctx := context.TODO()
	if s.cache != nil {
		if key, err := s.cache.Get(ctx, keyCacheName(identity)); err == nil && key != "" {
			s.presence.SetPublicKey(identity, key)
			return key
		}
	}
	if s.userRepo == nil {
		return ""
	}
	u, err := s.userRepo.GetByIdentity(ctx, identity)
	if err != nil {
		log.Error("key lookup failed", zap.String("identity", identity), zap.Error(err))
		return ""
	}
	if u == nil {
		return ""
	}
	s.presence.SetPublicKey(identity, u.PublicKey)
	s.cachePublicKey(ctx, identity, u.PublicKey)
	return u.PublicKey
}

func keyCacheName(identity string) string {
	return fmt.Sprintf("pubkey:%s", identity)
}

// cachePublicKey shares a published key with the other relay processes.
// Best effort; the durable store remains authoritative.
func (s *RelayServer) cachePublicKey(ctx context.Context, identity, key string) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Set(ctx, keyCacheName(identity), key, keyCacheTTL); err != nil {
		log.Debug("key cache write failed", zap.String("identity", identity), zap.Error(err))
	}
}

func (s *RelayServer) broadcastPresence(origin *session, p *model.Presence) {
	frame := &model.Frame{Type: model.FramePresence, Presence: p}
	for _, conn := range s.presence.Conns() {
		if conn == presence.Conn(origin) {
			continue
		}
		if err := conn.Push(frame); err != nil {
			log.Debug("presence broadcast push failed", zap.Error(err))
		}
	}
}
