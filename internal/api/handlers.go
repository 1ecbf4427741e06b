package api

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/service/campaign"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Campaigns *campaign.Service
	Sequences *automation.SequenceService
	Runner    *automation.Runner
	DB        Pinger // optional

	// AutomationEnabled gates POST /api/crm/events.
	AutomationEnabled bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns         *campaign.Service
	sequences         *automation.SequenceService
	runner            *automation.Runner
	db                Pinger
	automationEnabled bool
	validator         *validator.Validate
	startedAt         time.Time
}

// NewHandlers creates a new Handlers instance
func NewHandlers(d Deps) *Handlers {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handlers{
		campaigns:         d.Campaigns,
		sequences:         d.Sequences,
		runner:            d.Runner,
		db:                d.DB,
		automationEnabled: d.AutomationEnabled,
		validator:         v,
		startedAt:         time.Now(),
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether the handler
// should continue.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		respondError(w, http.StatusUnprocessableEntity, validationMessage(err))
		return false
	}
	return true
}

// HealthCheck returns the health status of the API
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "not_configured"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			status = "degraded"
			dbStatus = "unreachable"
		} else {
			dbStatus = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":             status,
		"database":           dbStatus,
		"automation_enabled": h.automationEnabled,
		"timestamp":          time.Now(),
		"uptime_seconds":     int(time.Since(h.startedAt).Seconds()),
	})
}
