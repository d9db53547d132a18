package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"intake.org/internal/allocation"
	"intake.org/internal/notify"
	"intake.org/internal/obs"
)

const serviceName = "intake-api"

// ReadyProbe: простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Allocator is the allocation surface served over HTTP.
type Allocator interface {
	AllocateOnCreate(ctx context.Context, draft allocation.CaseDraft) (allocation.Case, allocation.Receiver, error)
	Allocate(ctx context.Context, caseID int64, creatorRole allocation.Role) (allocation.Receiver, allocation.AllocationRecord, error)
	ManualReassign(ctx context.Context, caseID, targetReceiverID, actingUserID int64, reason string) (allocation.AllocationRecord, error)
	GetAllocationHistory(ctx context.Context, caseID int64) ([]allocation.AllocationRecord, error)
	PreviewNext(ctx context.Context, t allocation.CaseType) (allocation.Receiver, error)
}

// API: HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe readinessChecker
	version    string
	engine     Allocator
	hub        *notify.Hub

	rateBurst  int
	ratePerSec float64
}

func New(rp readinessChecker, version string, engine Allocator, hub *notify.Hub) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		engine:     engine,
		hub:        hub,
		rateBurst:  40,
		ratePerSec: 20,
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("POST /v1/cases", a.createCase)
	a.mux.HandleFunc("POST /v1/cases/{id}/allocate", a.allocateCase)
	a.mux.HandleFunc("POST /v1/cases/{id}/reassign", a.reassignCase)
	a.mux.HandleFunc("GET /v1/cases/{id}/allocations", a.caseHistory)
	a.mux.HandleFunc("GET /v1/rotation/next", a.nextReceiver)

	a.mux.HandleFunc("GET /v1/notifications/stream", a.Stream)
	a.mux.HandleFunc("GET /ws", a.WebSocket)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// SetRateLimit overrides the per-client token bucket. rps <= 0 disables limiting.
func (a *API) SetRateLimit(burst int, rps float64) {
	a.rateBurst = burst
	a.ratePerSec = rps
}

// Handler возвращает http.Handler для сервера со всей цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	// оборачиваем всё метриками
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe.Check(r.Context()); err != nil {
			obs.SetReady(false)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	}
	if e, ok := a.engine.(*allocation.Engine); ok {
		info["strategy"] = string(e.Strategy())
		info["policy_version"] = e.Policy().Version
	}
	writeJSON(w, http.StatusOK, info)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
