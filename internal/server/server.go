// Package server is the HTTP and WebSocket edge of the relay: room admission
// with the scheduling window gate, the speaker ingress channel, the
// subscriber egress channel, and the metrics and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/babelroom/babelroom/internal/config"
	"github.com/babelroom/babelroom/internal/health"
	"github.com/babelroom/babelroom/internal/room"
	"github.com/babelroom/babelroom/pkg/types"
)

// Server ties the hub, the metadata source, and the HTTP listener together.
type Server struct {
	cfg  *config.Config
	hub  *room.Hub
	meta MetaSource
	log  *slog.Logger

	checkers []health.Checker
	now      func() time.Time
}

// New creates a Server. Extra health checkers (e.g. the persistence backend)
// are served from /readyz alongside the built-in ones.
func New(cfg *config.Config, hub *room.Hub, meta MetaSource, log *slog.Logger, checkers ...health.Checker) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		hub:      hub,
		meta:     meta,
		log:      log,
		checkers: checkers,
		now:      time.Now,
	}
}

// Routes builds the server's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{room}", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(s.checkers...).Register(mux)
	return mux
}

// Run serves until ctx is cancelled, then drains the listener and shuts every
// room down.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.Shutdown()
		return nil
	})
	return g.Wait()
}

// helloPayload echoes the negotiated subscription back on connect.
type helloPayload struct {
	RoomID   string     `json:"roomId"`
	Role     types.Role `json:"role"`
	Lang     string     `json:"lang"`
	WantsTTS bool       `json:"wantsTts"`
}

// heartbeatPayload is the speaker liveness control message.
type heartbeatPayload struct {
	PCM bool `json:"pcm"`
}

// resumePayload raises a reconnecting subscriber's delivery watermarks.
type resumePayload struct {
	Versions map[string]int64 `json:"versions"`
}

// handleWS admits one connection: window gate, upgrade, registration, then
// the read loop until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("room")

	meta, err := s.meta.Get(r.Context(), slug)
	if err != nil {
		s.log.Error("metadata lookup failed", "room", slug, "error", err)
		http.Error(w, "metadata unavailable", http.StatusBadGateway)
		return
	}
	if meta == nil {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}

	earlyJoin := time.Duration(s.cfg.Server.EarlyJoinMinutes) * time.Minute
	grace := time.Duration(s.cfg.Server.GraceMinutes) * time.Minute
	switch windowState(meta, s.now(), earlyJoin, grace) {
	case WindowEarly:
		http.Error(w, "room not open yet", http.StatusForbidden)
		return
	case WindowExpired:
		http.Error(w, "room expired", http.StatusGone)
		return
	}

	role := types.RoleListener
	if r.URL.Query().Get("role") == string(types.RoleSpeaker) {
		role = types.RoleSpeaker
	}
	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = types.LangSource
	}
	wantsTTS, _ := strconv.ParseBool(r.URL.Query().Get("tts"))

	wsc, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "room", slug, "error", err)
		return
	}
	wsc.SetReadLimit(1 << 20)

	conn := newWSConn(wsc)
	id := uuid.NewString()
	rm := s.hub.GetOrCreate(*meta)
	sub := room.NewSubscriber(id, role, lang, wantsTTS, conn)

	rm.Subscribe(sub)
	_ = conn.SendControl("hello", helloPayload{
		RoomID:   slug,
		Role:     role,
		Lang:     lang,
		WantsTTS: wantsTTS,
	})
	s.log.Info("subscriber connected", "room", slug, "role", role, "lang", lang, "id", id)

	s.readLoop(r.Context(), wsc, rm, id, role)

	rm.Unsubscribe(id)
	conn.Close(room.CloseGoingAway, "bye")
	s.log.Info("subscriber disconnected", "room", slug, "id", id)
}

// readLoop consumes ingress frames until the connection drops. Binary frames
// are the raw PCM heartbeat; text frames are patches or control messages.
// Listeners may only send resume.
func (s *Server) readLoop(ctx context.Context, wsc *websocket.Conn, rm *room.Room, id string, role types.Role) {
	for {
		typ, data, err := wsc.Read(ctx)
		if err != nil {
			return
		}

		if typ == websocket.MessageBinary {
			if role == types.RoleSpeaker {
				rm.TouchAudio()
			}
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Debug("unparseable frame", "id", id, "error", err)
			continue
		}

		switch env.Type {
		case "", "patch":
			if role != types.RoleSpeaker {
				continue
			}
			raw := data
			if env.Type == "patch" {
				raw = env.Payload
			}
			var patch types.Patch
			if err := json.Unmarshal(raw, &patch); err != nil {
				s.log.Debug("unparseable patch", "id", id, "error", err)
				continue
			}
			rm.HandlePatch(patch)

		case "heartbeat":
			if role != types.RoleSpeaker {
				continue
			}
			rm.TouchEvent()
			var hb heartbeatPayload
			if env.Payload != nil && json.Unmarshal(env.Payload, &hb) == nil && hb.PCM {
				rm.TouchAudio()
			}

		case "resume":
			var res resumePayload
			if env.Payload != nil && json.Unmarshal(env.Payload, &res) == nil {
				rm.Resume(id, res.Versions)
			}

		case "reset":
			if role != types.RoleSpeaker {
				continue
			}
			rm.TouchEvent()
			rm.Reset()

		default:
			s.log.Debug("unknown frame type", "id", id, "type", env.Type)
		}
	}
}
