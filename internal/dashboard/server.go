package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"spotflow/internal/appstate"
	"spotflow/internal/config"
)

// Server is the dashboard's HTTP+websocket front door, adapted from
// internal/api's Server/Handlers pair and run_trading_bot.py's
// app.listen/PeriodicCallback wiring. One /socket route upgrades clients;
// a ticker at cfg.ProcUpdateRes broadcasts dirty app-state fields to all
// of them, matching __update_main's PeriodicCallback.
type Server struct {
	state  *appstate.AppState
	cfg    *config.Config
	hub    *Hub
	logger *slog.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	// FatalErrorCh receives a signal once, the first time AppState reports
	// a fatal error, matching __update_main's fatal_error-stops-the-loop
	// check. The engine watches this channel to begin shutdown.
	FatalErrorCh chan struct{}
}

// New constructs a dashboard Server bound to cfg.Dashboard.HostIP:HostPort.
func New(state *appstate.AppState, cfg *config.Config, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	s := &Server{
		state:        state,
		cfg:          cfg,
		hub:          hub,
		logger:       logger.With("component", "dashboard-server"),
		FatalErrorCh: make(chan struct{}, 1),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg.Dashboard, r.Host)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/socket", s.handleSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", cfg.Dashboard.HostIP, cfg.Dashboard.HostPort)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleSocket upgrades the connection and, once registered, immediately
// pushes the full app-state snapshot to the new client — mirroring
// SocketHandler.open's write_all([self.write_message]) call, which goes
// only to the newly connected client, not a broadcast.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("dashboard websocket upgrade failed", "error", err)
		return
	}
	NewClient(s.hub, conn, s.state)
}

// Run starts the HTTP listener and the periodic broadcast tick, blocking
// until ctx is canceled. Disabled entirely when cfg.Dashboard.Enabled is
// false, matching deployments that run headless.
func (s *Server) Run(ctx context.Context) error {
	if !s.cfg.Dashboard.Enabled {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(s.cfg.ProcUpdateRes)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.httpServer.Shutdown(shutdownCtx)

		case err := <-errCh:
			return fmt.Errorf("dashboard: listen: %w", err)

		case <-ticker.C:
			s.state.WriteUpdates(s.hub.WriteFns())
			if s.state.FatalError() {
				select {
				case s.FatalErrorCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

// isOriginAllowed mirrors internal/api/handlers.go's origin check against
// config.DashboardConfig.AllowedOrigins, falling back to same-host and
// localhost exemptions when no allow-list is configured.
func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
