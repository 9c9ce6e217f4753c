// Package hub wires the collaboration hub server: HTTP surface,
// WebSocket gateway, identity and task state, the FS notifier and the
// background sweepers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/collabhub/collabhub/internal/hub/config"
	"github.com/collabhub/collabhub/internal/hub/gateway"
	msghub "github.com/collabhub/collabhub/internal/hub/hub"
	"github.com/collabhub/collabhub/internal/hub/identity"
	"github.com/collabhub/collabhub/internal/hub/notify"
	"github.com/collabhub/collabhub/internal/hub/policy"
	"github.com/collabhub/collabhub/internal/hub/session"
	"github.com/collabhub/collabhub/internal/hub/sweeper"
	"github.com/collabhub/collabhub/internal/hub/tasklock"
	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/logging"
	"github.com/collabhub/collabhub/internal/metrics"
)

// shutdownTimeout bounds how long the HTTP server may take to drain.
const shutdownTimeout = 10 * time.Second

// Server is the assembled hub process.
type Server struct {
	cfg config.Config

	ids      *identity.Store
	sessions *session.Table
	locks    *tasklock.Manager
	presence *notify.Presence
	watcher  *notify.Watcher
	hub      *msghub.Hub
	gw       *gateway.Gateway
	sweep    *sweeper.Sweeper

	httpSrv *http.Server
	pumpWG  sync.WaitGroup
}

// NewServer builds and wires every component from the configuration.
func NewServer(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ids := identity.NewStore(cfg.IdentitiesPath())
	sessions := session.NewTable(ids)
	locks := tasklock.NewManager(cfg.ClaimsPath(), cfg.LocksPath())
	presence := notify.NewPresence()

	var engine policy.Engine = policy.NoopEngine{}
	if cfg.AntiEcho {
		engine = policy.NewEchoGuard()
	}

	board := msghub.NewBoard(cfg.BoardPath())
	h := msghub.New(ids, sessions, locks, presence, engine,
		policy.NewVersionedEdits(), policy.NewTally(), board)
	gw := gateway.New(h)

	watcher, err := notify.NewWatcher(cfg.WatchDir)
	if err != nil {
		return nil, fmt.Errorf("start fs notifier: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		ids:      ids,
		sessions: sessions,
		locks:    locks,
		presence: presence,
		watcher:  watcher,
		hub:      h,
		gw:       gw,
		sweep:    sweeper.New(h, locks),
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	handler := logging.HTTPMiddleware(metrics.HTTPMiddleware(mux))
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
	return s, nil
}

// Hub exposes the message hub, for extension registration before Serve.
func (s *Server) Hub() *msghub.Hub { return s.hub }

// Serve runs the server until ctx is cancelled or the listener fails,
// then performs the staged shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.pumpWG.Add(1)
	go s.pumpUpdates()
	s.sweep.Start()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("hub listening", "addr", s.cfg.Addr, "dataDir", s.cfg.DataDir,
			"watchDir", s.cfg.WatchDir, "antiEcho", s.cfg.AntiEcho)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received")
		s.shutdown()
		return nil
	}
}

// pumpUpdates feeds FS notifications into the broadcast path.
func (s *Server) pumpUpdates() {
	defer s.pumpWG.Done()
	for n := range s.watcher.Events() {
		s.hub.BroadcastUpdate(n)
	}
}

// shutdown tears the server down in dependency order: stop the
// sweepers and notifier, warn connected clients, drain connections,
// persist what must survive, then close the listener.
func (s *Server) shutdown() {
	s.sweep.Stop()

	if err := s.watcher.Close(); err != nil {
		slog.Warn("close fs notifier", "error", err)
	}
	s.pumpWG.Wait()

	s.hub.Broadcast(wire.ServerShutdown{Type: "server-shutdown", Reason: "server stopping"}, "")
	s.gw.Shutdown()

	// Identity and claim snapshots are written on every mutation; the
	// lock dump only exists for post-mortems.
	s.locks.DumpLocks()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	slog.Info("hub stopped")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"version":  wire.ServerVersion,
		"sessions": s.sessions.Count(),
		"agents":   s.ids.Count(),
	})
}
