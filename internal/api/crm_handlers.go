package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/service/campaign"
)

// queryInt parses an integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// ── Segments ────────────────────────────────────────────────────────────────

type segmentPreviewRequest struct {
	Rules      domain.FilterRules `json:"recipient_rules"`
	SampleSize int                `json:"sample_size" validate:"min=0,max=100"`
}

// PreviewSegment handles POST /api/crm/segments/preview.
func (h *Handlers) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentPreviewRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	preview, err := h.campaigns.PreviewRecipients(r.Context(), req.Rules, req.SampleSize)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// ── Campaigns ───────────────────────────────────────────────────────────────

// CreateCampaign handles POST /api/crm/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// ListCampaigns handles GET /api/crm/campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := campaign.ListFilter{
		Status: domain.CampaignStatus(q.Get("status")),
		Type:   domain.CampaignType(q.Get("type")),
		Limit:  queryInt(r, "limit", 50),
	}
	list, err := h.campaigns.List(r.Context(), f)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": list,
		"total":     len(list),
	})
}

// GetCampaign handles GET /api/crm/campaigns/{id}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// PreviewCampaign handles GET /api/crm/campaigns/{id}/preview.
func (h *Handlers) PreviewCampaign(w http.ResponseWriter, r *http.Request) {
	preview, err := h.campaigns.PreviewCampaign(r.Context(), chi.URLParam(r, "id"), queryInt(r, "sample", 10))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// SendCampaign handles POST /api/crm/campaigns/{id}/send. The send runs in
// the request; dry_run=true renders without delivering.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	summary, err := h.campaigns.SendCampaign(r.Context(), chi.URLParam(r, "id"), dryRun)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ActivateCampaign handles POST /api/crm/campaigns/{id}/activate.
func (h *Handlers) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	h.campaignTransition(w, r, h.campaigns.Activate)
}

// PauseCampaign handles POST /api/crm/campaigns/{id}/pause.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.campaignTransition(w, r, h.campaigns.Pause)
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// ScheduleCampaign handles POST /api/crm/campaigns/{id}/schedule.
func (h *Handlers) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if !req.ScheduledAt.After(time.Now()) {
		respondError(w, http.StatusUnprocessableEntity, "scheduled_at must be in the future")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.campaigns.Schedule(r.Context(), id, req.ScheduledAt); err != nil {
		respondServiceError(w, err)
		return
	}
	h.respondCampaign(w, r, id)
}

// CampaignSends handles GET /api/crm/campaigns/{id}/sends.
func (h *Handlers) CampaignSends(w http.ResponseWriter, r *http.Request) {
	records, err := h.campaigns.SendLog(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if records == nil {
		records = []domain.SendRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sends": records,
		"total": len(records),
	})
}

func (h *Handlers) campaignTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := fn(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	h.respondCampaign(w, r, id)
}

func (h *Handlers) respondCampaign(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// ── Sequences ───────────────────────────────────────────────────────────────

// CreateSequence handles POST /api/crm/sequences.
func (h *Handlers) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var in automation.SequenceInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	seq, err := h.sequences.Create(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, seq)
}

// ListSequences handles GET /api/crm/sequences.
func (h *Handlers) ListSequences(w http.ResponseWriter, r *http.Request) {
	list, err := h.sequences.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Sequence{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sequences": list,
		"total":     len(list),
	})
}

// GetSequence handles GET /api/crm/sequences/{id}.
func (h *Handlers) GetSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := h.sequences.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, seq)
}

// ActivateSequence handles POST /api/crm/sequences/{id}/activate.
func (h *Handlers) ActivateSequence(w http.ResponseWriter, r *http.Request) {
	h.sequenceTransition(w, r, true)
}

// PauseSequence handles POST /api/crm/sequences/{id}/pause.
func (h *Handlers) PauseSequence(w http.ResponseWriter, r *http.Request) {
	h.sequenceTransition(w, r, false)
}

func (h *Handlers) sequenceTransition(w http.ResponseWriter, r *http.Request, activate bool) {
	id := chi.URLParam(r, "id")
	var err error
	if activate {
		err = h.sequences.Activate(r.Context(), id)
	} else {
		err = h.sequences.Pause(r.Context(), id)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	seq, err := h.sequences.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, seq)
}

type startSequenceRequest struct {
	Email     string         `json:"email" validate:"required,email"`
	Variables map[string]any `json:"variables"`
}

// StartSequence handles POST /api/crm/sequences/by-name/{name}/start.
func (h *Handlers) StartSequence(w http.ResponseWriter, r *http.Request) {
	var req startSequenceRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.runner.StartSequenceByEmail(r.Context(), chi.URLParam(r, "name"), req.Email, req.Variables)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ── Events ──────────────────────────────────────────────────────────────────

type eventRequest struct {
	EventType string         `json:"event_type" validate:"required"`
	UserID    string         `json:"user_id" validate:"required"`
	Metadata  map[string]any `json:"metadata"`
}

// ProcessEvent handles POST /api/crm/events. Per-item failures are
// reported in the body; the status is 200 whenever the event was read.
func (h *Handlers) ProcessEvent(w http.ResponseWriter, r *http.Request) {
	if !h.automationEnabled {
		respondError(w, http.StatusServiceUnavailable, "automation is disabled")
		return
	}
	var req eventRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	res := h.runner.ProcessEventTrigger(r.Context(), req.EventType, req.UserID, req.Metadata)
	if res.Errors == nil {
		res.Errors = []string{}
	}
	respondJSON(w, http.StatusOK, res)
}
