package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/powerpool/powerindex-keeper/internal/deployment"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer serves a read-only view of the deployment, the stored reports and the metrics.
type WebServer struct {
	router     *mux.Router
	port       string
	deployment *deployment.Deployment
	started    time.Time
}

// NewWebServer creates a new web server instance. A nil gatherer leaves /metrics unrouted.
func NewWebServer(port string, d *deployment.Deployment, gatherer prometheus.Gatherer) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		deployment: d,
		started:    time.Now(),
	}

	server.setupRoutes(gatherer)
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes(gatherer prometheus.Gatherer) {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if gatherer != nil {
		ws.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Live deployment state
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{address}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/clients", ws.handleGetClients).Methods("GET")
	api.HandleFunc("/clients/{address}", ws.handleGetClient).Methods("GET")
	api.HandleFunc("/clients/{address}/quote", ws.handleGetQuote).Methods("GET")
	api.HandleFunc("/reporters", ws.handleGetReporters).Methods("GET")
	api.HandleFunc("/incentive-parameters", ws.handleGetIncentiveParameters).Methods("GET")

	// Stored history
	api.HandleFunc("/reports", ws.handleGetReports).Methods("GET")
	api.HandleFunc("/reports/{id}", ws.handleGetReport).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/events", ws.handleGetEvents).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, e.g. for httptest.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth reports the process, the ledger clock and the database. Running without a database is healthy.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	database := "disabled"
	healthy := true
	if state.DB != nil {
		database = "ok"
		if err := state.TestDBConnection(); err != nil {
			database = "unreachable"
			healthy = false
		}
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !healthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
			"uptime_seconds":   int64(time.Since(ws.started).Seconds()),
		},
		"component": map[string]interface{}{
			"name":    "powerindex-keeper",
			"version": "1.0.0",
		},
		"keeper_status": map[string]interface{}{
			"database":    database,
			"ledger_time": ws.deployment.Ledger.Clock().Now().UTC(),
			"pools":       len(ws.deployment.Pools()),
			"clients":     len(ws.deployment.Layer.Clients()),
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := ws.deployment.PoolSnapshots()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	})
}

func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	addr, ok := ws.addressVar(w, r)
	if !ok {
		return
	}
	for _, snap := range ws.deployment.PoolSnapshots() {
		if snap.Address == addr {
			ws.writeJSONResponse(w, http.StatusOK, snap)
			return
		}
	}
	ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
}

func (ws *WebServer) handleGetClients(w http.ResponseWriter, r *http.Request) {
	layer := ws.deployment.Layer
	now := ws.deployment.Ledger.Clock().Now()

	clients := make([]poke.ClientInfo, 0)
	for _, addr := range layer.Clients() {
		info, err := layer.ClientInfo(addr, now)
		if err != nil {
			webLogger.Error().Err(err).Str("client", addr.Hex()).Msg("Failed to read client")
			continue
		}
		clients = append(clients, info)
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
		"count":   len(clients),
	})
}

func (ws *WebServer) handleGetClient(w http.ResponseWriter, r *http.Request) {
	addr, ok := ws.addressVar(w, r)
	if !ok {
		return
	}
	layer := ws.deployment.Layer
	info, err := layer.ClientInfo(addr, ws.deployment.Ledger.Clock().Now())
	if err != nil {
		ws.writeErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	designated, _ := layer.DesignatedReporter(addr)
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"client":              info,
		"designated_reporter": designated,
	})
}

// handleGetQuote prices a hypothetical report: ?gas_used=&gas_price_gwei=&messages=&native=&plan=
func (ws *WebServer) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	addr, ok := ws.addressVar(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	gasUsed, err := strconv.ParseUint(q.Get("gas_used"), 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid gas_used")
		return
	}
	gwei, err := strconv.ParseUint(q.Get("gas_price_gwei"), 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid gas_price_gwei")
		return
	}
	messages := 1
	if s := q.Get("messages"); s != "" {
		if messages, err = strconv.Atoi(s); err != nil || messages < 0 {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid messages")
			return
		}
	}
	opts := poke.RewardOptions{CompensateInNative: q.Get("native") == "true"}
	if s := q.Get("plan"); s != "" {
		if opts.PlanID, err = strconv.ParseUint(s, 10, 64); err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid plan")
			return
		}
	}

	gasPrice := sdkmath.NewIntFromUint64(gwei).MulRaw(params.GWei)
	quote, err := ws.deployment.Layer.CompensationQuote(r.Context(), addr, gasUsed, gasPrice, messages, opts)
	if err != nil {
		if errors.Is(err, poke.ErrUnknownClient) {
			ws.writeErrorResponse(w, http.StatusNotFound, "Client not found")
			return
		}
		webLogger.Error().Err(err).Str("client", addr.Hex()).Msg("Failed to quote compensation")
		ws.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, quote)
}

func (ws *WebServer) handleGetReporters(w http.ResponseWriter, r *http.Request) {
	reporters := ws.deployment.Layer.Reporters()
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"reporters": reporters,
		"count":     len(reporters),
	})
}

func (ws *WebServer) handleGetIncentiveParameters(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"parameters": ws.deployment.Params,
		"timestamp":  time.Now().UTC(),
	})
}

// handleGetReports returns recent receipts, optionally for one ?client=
func (ws *WebServer) handleGetReports(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	var client *common.Address
	if s := r.URL.Query().Get("client"); s != "" {
		if !common.IsHexAddress(s) {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid client address")
			return
		}
		addr := common.HexToAddress(s)
		client = &addr
	}

	reports, err := state.GetRecentReports(limit, client)
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve reports")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
		"limit":   limit,
	})
}

func (ws *WebServer) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid report ID")
		return
	}

	report, err := state.GetReportByID(id)
	if err != nil {
		if errors.Is(err, state.ErrNotInitialized) {
			ws.writeStateError(w, err, "")
			return
		}
		webLogger.Error().Err(err).Int64("reportId", id).Msg("Failed to get report")
		ws.writeErrorResponse(w, http.StatusNotFound, "Report not found")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, report)
}

func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetReportSummary()
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve report summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetEvents returns recent ledger events, optionally of one ?kind=
func (ws *WebServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	evts, err := state.GetRecentEvents(limit, events.Kind(r.URL.Query().Get("kind")))
	if err != nil {
		ws.writeStateError(w, err, "Failed to retrieve events")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": evts,
		"count":  len(evts),
		"limit":  limit,
	})
}

func (ws *WebServer) addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := mux.Vars(r)["address"]
	if !common.IsHexAddress(s) {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseLimit(r *http.Request) int {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
}

// writeStateError answers 503 when the keeper runs without a database.
func (ws *WebServer) writeStateError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, state.ErrNotInitialized) {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Database is not configured")
		return
	}
	webLogger.Error().Err(err).Msg(message)
	ws.writeErrorResponse(w, http.StatusInternalServerError, message)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		webLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
