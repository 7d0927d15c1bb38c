package http

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"semaphore/badging/internal/apperr"
	"semaphore/badging/internal/auth"
	"semaphore/badging/internal/badge"
	"semaphore/badging/internal/config"
	"semaphore/badging/internal/db"
	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/model"
	"semaphore/badging/internal/realtime"
	"semaphore/badging/internal/workflow"
)

type Server struct {
	cfg      config.Config
	store    *db.Store
	badges   *badge.Service
	requests *workflow.Service
	kpis     *kpi.Service
	kpiCache *kpi.Cache
	live     *realtime.Loop
	notifier realtime.Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *log.Logger
	proxies  []netip.Prefix
	upgrader websocket.Upgrader
}

type Services struct {
	Badges   *badge.Service
	Requests *workflow.Service
	Kpis     *kpi.Service
	KpiCache *kpi.Cache
	Live     *realtime.Loop
	Notifier realtime.Notifier
}

func NewServer(cfg config.Config, store *db.Store, services Services) *Server {
	logger := log.Default()
	return &Server{
		cfg:      cfg,
		store:    store,
		badges:   services.Badges,
		requests: services.Requests,
		kpis:     services.Kpis,
		kpiCache: services.KpiCache,
		live:     services.Live,
		notifier: services.Notifier,
		loc:      cfg.Location(),
		now:      time.Now,
		logger:   logger,
		proxies:  parseProxies(cfg.TrustedProxies, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(s.authMiddleware).Get("/location/verdict", s.handleVerdict)
	r.With(s.authMiddleware).Get("/badge/decision", s.handleDecision)
	r.With(s.authMiddleware).Post("/badge", s.handleBadge)
	r.With(s.authMiddleware).Get("/sessions", s.handleSessions)

	r.With(s.authMiddleware).Post("/modifications", s.handleCreateModification)
	r.With(s.authMiddleware).Get("/modifications", s.handleListModifications)
	r.With(s.authMiddleware).Post("/modifications/{requestId}/validation", s.handleValidateModification)
	r.With(s.authMiddleware).Post("/oublis", s.handleCreateOubli)
	r.With(s.authMiddleware).Get("/oublis", s.handleListOublis)
	r.With(s.authMiddleware).Post("/oublis/{requestId}/validation", s.handleValidateOubli)
	r.With(s.authMiddleware).Get("/requests/pending", s.handlePendingCount)

	r.With(s.authMiddleware, s.privilegedOnly).Get("/kpi", s.handleKpi)
	r.With(s.authMiddleware, s.privilegedOnly).Get("/users/live", s.handleLiveUsers)
	r.With(s.authMiddleware, s.privilegedOnly).Get("/ws/users", s.handleLiveSocket)
	r.With(s.authMiddleware).Put("/users/{userId}/badge", s.handleAssignBadge)

	return r
}

// Auth

type claimsKey struct{}

// authMiddleware accepts a bearer header, or a token query parameter since
// browsers cannot set headers on websocket upgrades.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) privilegedOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if !claims.Role.Privileged() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func actorFrom(claims *auth.Claims) workflow.Actor {
	return workflow.Actor{UserID: claims.UserID, Role: claims.Role}
}

// Helpers

// clientAddress is the caller's network address. Forwarding headers are
// only honored when the connection comes from a trusted proxy; the address
// is then the nearest X-Forwarded-For hop that is not itself a proxy.
func (s *Server) clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !s.trustedProxy(host) {
		return host
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		hops := strings.Split(forwarded, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && (i == 0 || !s.trustedProxy(hop)) {
				return hop
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return host
}

func (s *Server) trustedProxy(address string) bool {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseProxies accepts single addresses and CIDR blocks.
func parseProxies(entries []string, logger *log.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Printf("ignoring trusted proxy %q: not an address or CIDR block", entry)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeAppError reports a classified domain error with its stable code.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(apperr.KindOf(err)), apperr.CodeOf(err))
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.Integrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func parseLimit(r *http.Request, fallback int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func parseStatus(value string) (model.RequestStatus, bool) {
	switch status := model.RequestStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case "":
		return "", true
	case model.RequestPending, model.RequestApproved, model.RequestRejected:
		return status, true
	default:
		return "", false
	}
}
