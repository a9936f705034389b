// Package ws is the transport layer (§4.1, §5): it upgrades one HTTP
// request per session token into a long-lived WebSocket connection, applies
// the origin check and per-token rate limit, and drives the engine's
// sequential message loop for that connection's lifetime.
package ws

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeycumines/go-catrate"

	"github.com/screenverify/engine/internal/engine"
)

// RateLimitWindow and RateLimitMax implement §5's "per-token sliding
// counter: at most 50 inbound messages per 10-second window".
const (
	RateLimitWindow = 10 * time.Second
	RateLimitMax    = 50
)

// Server routes `/<prefix>/<token>` WebSocket upgrades to the engine.
type Server struct {
	engine     *engine.Engine
	prefix     string
	production bool
	origins    map[string]bool
	limiter    *catrate.Limiter
}

// NewServer builds a Server. production gates the origin check (§4.1:
// "if running in a production-tagged environment"); origins is the
// allow-list checked against a non-empty Origin header.
func NewServer(eng *engine.Engine, prefix string, production bool, origins []string) *Server {
	s := &Server{
		engine:     eng,
		prefix:     strings.TrimSuffix(prefix, "/"),
		production: production,
		origins:    make(map[string]bool, len(origins)),
		limiter:    catrate.NewLimiter(map[time.Duration]int{RateLimitWindow: RateLimitMax}),
	}
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			s.origins[trimmed] = true
		}
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(s.prefix+"/", s.handleConnect)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, s.prefix+"/")
	if token == "" {
		http.Error(w, "missing session token", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade error: %v", err)
		return
	}

	s.serveConnection(conn, token)
}

// checkOrigin implements §4.1's origin check: outside a production-tagged
// environment every origin is accepted; inside one, an empty Origin header
// (non-browser clients) passes, but a populated one must be on the
// allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	if !s.production {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.origins[origin]
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("ws: listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
