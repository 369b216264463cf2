// Package statusapi exposes a small read-only HTTP surface: liveness and
// the current session's identity and counters. It reads exclusively
// through accessors supplied at wiring time and never mutates anything.
package statusapi

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Info is the /session response body.
type Info struct {
	SessionID          string `json:"session_id"`
	Status             string `json:"status"`
	MoveCount          int    `json:"move_count"`
	LastSavedMoveIndex int    `json:"last_saved_move_index"`
	LastAppliedSeq     uint64 `json:"last_applied_seq,omitempty"`
}

// Provider yields the current session info. Host processes back it with
// the coordinator's accessors, peers with their replica.
type Provider func() Info

type Server struct {
	addr string
	info Provider
	log  *zap.Logger
	srv  *fasthttp.Server
}

func New(addr string, info Provider, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{addr: addr, info: info, log: log}
	s.srv = &fasthttp.Server{
		Handler:          s.handle,
		Name:             "chessync-status",
		DisableKeepalive: false,
	}
	return s
}

// Start serves in the background; bind failures are logged, not fatal to
// the session.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(s.addr); err != nil {
			s.log.Error("status_listen_error", zap.String("addr", s.addr), zap.Error(err))
		}
	}()
	s.log.Info("status_listen", zap.String("addr", s.addr))
}

func (s *Server) Shutdown() error {
	if s == nil || s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case "/session":
		body, err := json.Marshal(s.info())
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}
