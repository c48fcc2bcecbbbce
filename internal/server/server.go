// Package server exposes the bridge over HTTP and WebSocket: a query API
// for snapshots and an event stream fed by the broadcast hub.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dmarinho/obdbridge/internal/dtcdb"
	"github.com/dmarinho/obdbridge/internal/telemetry"
	"github.com/gorilla/websocket"
)

// Server serves the query boundary and bridges hub subscriptions onto
// WebSocket connections.
type Server struct {
	cfg *Config
	svc *telemetry.Service
	hub *telemetry.Hub

	upgrader websocket.Upgrader
}

// New creates a new Server.
func New(cfg *Config, svc *telemetry.Service, hub *telemetry.Hub) *Server {
	return &Server{
		cfg: cfg,
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/api/health", cors(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/snapshot", cors(http.HandlerFunc(s.handleSnapshot)))
	mux.Handle("/api/group/", cors(http.HandlerFunc(s.handleGroup)))
	mux.Handle("/api/diagnostics/refresh", cors(http.HandlerFunc(s.handleRefreshDiagnostics)))
	mux.Handle("/api/config", cors(http.HandlerFunc(s.handleConfig)))

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// cors applies the permissive policy the API has always had: consumers are
// local dashboards served from other origins.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	// The hub primes the sink with a full-state message, so the client is
	// populated before the first periodic update arrives.
	sink := s.hub.Subscribe()

	// Writer goroutine, drains the sink until it is closed (unsubscribed
	// or pruned by the hub).
	go func() {
		defer conn.Close()
		for msg := range sink.Messages() {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.hub.Unsubscribe(sink)
				break
			}
		}
	}()

	// Reader goroutine, consumes keep-alives until the client goes away.
	go func() {
		defer func() {
			s.hub.Unsubscribe(sink)
			conn.Close()
			log.Printf("[ws] client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Snapshot())
}

func (s *Server) handleGroup(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimPrefix(r.URL.Path, "/api/group/")
	snap, ok := s.svc.Latest(group)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "unknown group",
			"group": group,
		})
		return
	}
	if group == telemetry.GroupDiagnostics {
		writeJSON(w, http.StatusOK, diagnosticsBody(snap))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRefreshDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.svc.RefreshDiagnostics(r.Context())
	writeJSON(w, http.StatusOK, diagnosticsBody(snap))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := s.cfg.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// diagnosticsBody enriches a diagnostics snapshot with code descriptions
// from the knowledge base.
func diagnosticsBody(snap telemetry.Snapshot) map[string]interface{} {
	return map[string]interface{}{
		"ts":           snap.TS,
		"dtcs":         snap.DTCs,
		"descriptions": dtcdb.DescribeAll(snap.DTCs),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[server] response encode failed: %v", err)
	}
}
