// Package api builds the gateway's public HTTP/WS surface, spec.md §6:
// the query endpoint, read-only status endpoints, and the real-time
// event stream. Grounded on jordanhubbard-tokenhub's internal/app/server.go
// for the plain stdlib ServeMux + go-chi/cors middleware wiring, and on
// agent/runtime.go's Broadcast shape for the WS event fan-out.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aixgo-dev/gateway/internal/gateway/artifact"
	"github.com/aixgo-dev/gateway/internal/gateway/budget"
	"github.com/aixgo-dev/gateway/internal/gateway/cache"
	"github.com/aixgo-dev/gateway/internal/gateway/eventhub"
	"github.com/aixgo-dev/gateway/internal/gateway/orchestrator"
	"github.com/aixgo-dev/gateway/internal/gateway/providers"
	"github.com/aixgo-dev/gateway/internal/gateway/router"
	"github.com/aixgo-dev/gateway/pkg/observability"
	"github.com/aixgo-dev/gateway/pkg/security"
)

func routerStrategy(s string) router.Strategy {
	switch s {
	case string(router.StrategyPriority), string(router.StrategyCostOptimized), string(router.StrategyCascade), string(router.StrategyEmergency):
		return router.Strategy(s)
	default:
		return ""
	}
}

// Server holds the dependencies the gateway's handlers close over.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Budget       *budget.Tracker
	Cache        *cache.Cache
	Artifacts    *artifact.Store
	Events       *eventhub.Hub
	CORSOrigins  []string

	upgrader      websocket.Upgrader
	wsLimiter     *security.ConnectionRateLimiter
	authenticator security.Authenticator
	audit         security.AuditLogger
	startedAt     time.Time
}

// NewServer constructs the API server. CORS origins default to "*" when
// unset, matching the teacher's permissive-default convention. authTokens
// are the bearer tokens accepted on the event stream (spec.md §6); when
// empty, any connection is admitted without a token check.
func NewServer(orc *orchestrator.Orchestrator, b *budget.Tracker, c *cache.Cache, a *artifact.Store, events *eventhub.Hub, corsOrigins []string, authTokens []string) *Server {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	return &Server{
		Orchestrator:  orc,
		Budget:        b,
		Cache:         c,
		Artifacts:     a,
		Events:        events,
		CORSOrigins:   corsOrigins,
		upgrader:      websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		wsLimiter:     security.NewConnectionRateLimiter(10, time.Minute, 5*time.Minute),
		authenticator: newWSAuthenticator(authTokens),
		audit:         security.NewInMemoryAuditLogger(),
		startedAt:     time.Now(),
	}
}

// newWSAuthenticator admits any token when none are configured (spec.md
// §6: "tokens are opaque to the core" — the gateway itself has no notion
// of identity beyond the raw token string), otherwise only the configured
// set.
func newWSAuthenticator(tokens []string) security.Authenticator {
	if len(tokens) == 0 {
		return security.NewNoAuthAuthenticator()
	}
	auth := security.NewAPIKeyAuthenticator()
	for _, t := range tokens {
		auth.AddKey(t, &security.Principal{ID: t})
	}
	return auth
}

// bearerToken extracts the WS connection token from the Authorization
// header or the ?token= query parameter, per spec.md §6.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get("token")
}

// Router builds the full mux per spec.md §6's endpoint table.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /api/analytics/events", s.handleAnalyticsEvents)
	mux.HandleFunc("GET /api/budget", s.handleBudget)
	mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	mux.HandleFunc("POST /api/cache/clear", s.handleCacheClear)
	mux.HandleFunc("GET /api/artifacts", s.handleArtifacts)
	mux.HandleFunc("GET /api/artifacts/{queryId}", s.handleArtifactByQuery)
	mux.HandleFunc("GET /api/manager-view", s.handleManagerView)
	mux.Handle("GET /metrics", observability.MetricsHandler())

	corsMiddleware := cors.Handler(cors.Options{
		AllowedOrigins:   s.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return s.instrument(corsMiddleware(mux))
}

// instrument wraps every request with Prometheus HTTP metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.RecordHTTPRequest(r.Method, r.URL.Path, httpStatusLabel(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func httpStatusLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type queryRequest struct {
	Text     string `json:"text"`
	Strategy string `json:"strategy,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.Orchestrator.ProcessQuery(r.Context(), orchestrator.Request{
		QueryID:  uuid.NewString(),
		Text:     req.Text,
		Strategy: routerStrategy(req.Strategy),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrBudgetExceeded) {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleHealth answers spec.md §6's GET /api/health contract:
// `{status, providers:{name:{live,healthy,latencyMs,successRate}}, wsClients, uptime, timestamp}`.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	providerStatus := map[string]providers.Status{}
	if pc, ok := s.Orchestrator.Caller.(*providers.Caller); ok {
		providerStatus = pc.ProviderStatus()
	}
	for _, p := range providerStatus {
		if !p.Healthy {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"providers": providerStatus,
		"wsClients": s.Events.SubscriberCount(),
		"uptime":    time.Since(s.startedAt).String(),
		"timestamp": time.Now(),
	})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	summary := s.Artifacts.GetSummary()
	insights := s.Artifacts.Insights()
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "insights": insights})
}

func (s *Server) handleAnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPFrom(r)
	if !s.wsLimiter.Allow(clientIP) {
		writeError(w, http.StatusTooManyRequests, "too many connection attempts")
		return
	}

	ctx := r.Context()
	principal, err := s.authenticator.Authenticate(ctx, bearerToken(r))
	s.audit.LogAuthAttempt(ctx, err == nil, err)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	ctx = security.WithAuthContext(ctx, &security.AuthContext{
		Principal:   principal,
		IPAddress:   clientIP,
		UserAgent:   r.UserAgent(),
		RequestTime: time.Now(),
	})
	r = r.WithContext(ctx)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: ws upgrade failed remote=%s err=%v", clientIP, err)
		return
	}
	defer conn.Close()

	sub := s.Events.Subscribe()
	defer s.Events.Unregister(sub.ID)
	observability.SetWSConnections(s.Events.SubscriberCount())
	defer observability.SetWSConnections(s.Events.SubscriberCount())

	conn.WriteJSON(eventhub.Envelope{Type: eventhub.TypeConnected, Timestamp: time.Now()})

	const pongWait = 60 * time.Second
	const pingPeriod = 30 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	var writeMu sync.Mutex
	writeJSONLocked := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var directive clientDirective
			if err := json.Unmarshal(msg, &directive); err != nil {
				continue
			}
			ch := eventhub.Channel(directive.Channel)
			switch directive.Type {
			case "subscribe":
				s.Events.SubscribeChannel(sub, ch)
				go s.pump(conn, sub, ch, done, &writeMu)
				writeJSONLocked(eventhub.Envelope{Type: eventhub.TypeSubscribed, Data: directive.Channel, Timestamp: time.Now()})
			case "unsubscribe":
				s.Events.UnsubscribeChannel(sub, ch)
				writeJSONLocked(eventhub.Envelope{Type: eventhub.TypeUnsubscribed, Data: directive.Channel, Timestamp: time.Now()})
			case "pong":
				conn.SetReadDeadline(time.Now().Add(pongWait))
			}
		}
	}()

	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for _, ch := range []eventhub.Channel{eventhub.ChannelEvent, eventhub.ChannelHealth, eventhub.ChannelBudget, eventhub.ChannelCache} {
		go s.pump(conn, sub, ch, done, &writeMu)
	}
	<-done
}

// clientDirective is the subset of spec.md §6's inbound envelope shape the
// core acts on: {type:subscribe|unsubscribe, channel} and {type:pong}.
type clientDirective struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func (s *Server) pump(conn *websocket.Conn, sub *eventhub.Subscriber, ch eventhub.Channel, done <-chan struct{}, writeMu *sync.Mutex) {
	q := sub.Queue(ch)
	for {
		select {
		case env, ok := <-q:
			if !ok {
				return
			}
			writeMu.Lock()
			err := conn.WriteJSON(env)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"daily":    s.Budget.GetStatus(budget.PeriodDaily),
		"weekly":   s.Budget.GetStatus(budget.PeriodWeekly),
		"monthly":  s.Budget.GetStatus(budget.PeriodMonthly),
		"emergency": s.Budget.IsEmergencyModeActive(),
		"byProvider": s.Budget.ByProvider(),
		"byModel":    s.Budget.ByModel(),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Cache.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries, err := s.Cache.Entries(100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "entries": entries})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.Cache.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Artifacts.GetRecent(100))
}

func (s *Server) handleArtifactByQuery(w http.ResponseWriter, r *http.Request) {
	queryID := r.PathValue("queryId")
	writeJSON(w, http.StatusOK, s.Artifacts.GetByQueryID(queryID))
}

// handleManagerView is spec.md's consolidated non-engineer dashboard feed:
// summary + budget + cache stats in one response.
func (s *Server) handleManagerView(w http.ResponseWriter, r *http.Request) {
	cacheStats, _ := s.Cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": s.Artifacts.GetSummary(),
		"budget": map[string]any{
			"daily":   s.Budget.GetStatus(budget.PeriodDaily),
			"monthly": s.Budget.GetStatus(budget.PeriodMonthly),
		},
		"cache":    cacheStats,
		"insights": s.Artifacts.Insights(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func clientIPFrom(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	return r.RemoteAddr
}
