// Package transport is the WebSocket/HTTP front door: it upgrades
// connections, frames client/server messages, and dispatches each
// ClientFrame by event name to the Dispatcher, Pairing module, Account
// store, or Social logger, mirroring the shape of the teacher's
// session.go dispatch/dispatchRaw pair (decode once, switch on a string
// tag, delegate to one handler per tag) generalized from the teacher's
// ClientComMessage sub-field switch to proto.ClientFrame.Event.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/relaymesh/relaymesh/internal/account"
	"github.com/relaymesh/relaymesh/internal/dispatch"
	"github.com/relaymesh/relaymesh/internal/pairing"
	"github.com/relaymesh/relaymesh/internal/presence"
	"github.com/relaymesh/relaymesh/internal/proto"
	"github.com/relaymesh/relaymesh/internal/relayerr"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/internal/social"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Config is the transport-layer subset of boot configuration.
type Config struct {
	InstanceID string
	APIKey     string
	FrameCap   int64
}

// Server is the HTTP/WebSocket front door.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	sessions *session.Registry
	dispatch *dispatch.Dispatcher
	presence *presence.Store
	pairing  *pairing.Module
	accounts account.Store
	social   *social.Logger

	upgrader websocket.Upgrader
}

// New constructs a transport Server wired to the relay's core
// components.
func New(cfg Config, log zerolog.Logger, sessions *session.Registry, d *dispatch.Dispatcher, pres *presence.Store, pr *pairing.Module, accounts account.Store, soc *social.Logger) *Server {
	return &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "transport").Logger(),
		sessions: sessions,
		dispatch: d,
		presence: pres,
		pairing:  pr,
		accounts: accounts,
		social:   soc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the chi mux: a liveness probe and the WebSocket upgrade
// endpoint, optionally gated by a shared-secret header (spec.md §6's
// RELAY_API_KEY, generalized from the teacher's signed-appid scheme in
// server/api_key.go to a single shared secret, since this relay has no
// multi-tenant app registry to sign against).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(s.requireAPIKey)
		}
		r.Get("/ws", s.serveWS)
	})

	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Relay-Key") != s.cfg.APIKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(session.NewID(), s.cfg.InstanceID)
	sess.UserAgent = r.Header.Get("User-Agent")
	sess.DeviceID = r.URL.Query().Get("device_id")
	sess.Lang = r.Header.Get("Accept-Language")
	s.sessions.Track(sess)

	s.log.Info().Str("session_id", sess.ID).Msg("session connected")

	go s.writePump(conn, sess)
	s.readPump(conn, sess)
}

func (s *Server) writePump(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case msg, ok := <-sess.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.Stop:
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (s *Server) readPump(conn *websocket.Conn, sess *session.Session) {
	defer func() {
		conn.Close()
		sess.Close()
		s.dispatch.Disconnect(context.Background(), sess)
		s.log.Info().Str("session_id", sess.ID).Msg("session disconnected")
	}()

	conn.SetReadLimit(s.cfg.FrameCap)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame proto.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sess.QueueOut(errorFrame("", relayerr.InvalidArgument, "malformed frame"))
			continue
		}

		s.handle(context.Background(), sess, frame)
	}
}

func errorFrame(id string, kind relayerr.Kind, msg string) proto.ServerFrame {
	return proto.ServerFrame{
		Event: proto.EvErrorMsg,
		ID:    id,
		Data:  proto.ErrorMsg{Kind: string(kind), Message: msg},
	}
}
