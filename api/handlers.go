/*
handlers.go - HTTP API handlers for the blood allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the lifecycle
  controller. Handlers never touch units or links directly; every
  mutation goes through the controller's guarded paths.

ENDPOINTS:
  Inventory:
    GET    /api/units                   List units (?status= filter)
    POST   /api/units                   Add a unit manually
    GET    /api/units/{id}              Get one unit
    POST   /api/units/{id}/discard      Discard an available unit
    GET    /api/availability            Compatible-stock summary
    POST   /api/donations               Record a donated unit
    POST   /api/periods                 Open a collection period

  Demands:
    GET    /api/demands                 List demands (?status= filter)
    POST   /api/demands                 Create routine demand
    POST   /api/demands/urgent          Create urgent demand
    GET    /api/demands/{id}            Demand with its links
    POST   /api/demands/{id}/resolve-type  Set an unknown blood type
    GET    /api/demands/{id}/plan       Compute allocation plan
    POST   /api/demands/{id}/approve    Commit a selection (no preemption)
    POST   /api/demands/{id}/assign     Urgent commit, may preempt
    POST   /api/demands/{id}/complete   Consume reserved volumes
    POST   /api/demands/{id}/cancel     Release reservations
    POST   /api/demands/{id}/reject     Reject a pending demand

  Rules:
    GET    /api/rules                   Active compatibility table
    PUT    /api/rules                   Replace the compatibility table

ERROR HANDLING:
  Engine errors map to HTTP status by category:
  - 400: ErrValidation (malformed input, incompatible selection)
  - 404: ErrNotFound
  - 409: ErrConflict (lost a commit race - re-plan and retry)
  - 422: ErrState (operation not legal in the current status)
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/lifecycle.go: Controller this layer delegates to
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bloodbank/engine"
	"github.com/warp/bloodbank/factory"
	"github.com/warp/bloodbank/geo"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// RuleStore persists the compatibility table; both the SQLite and the
// in-memory store satisfy it.
type RuleStore interface {
	Rules(ctx context.Context) ([]engine.CompatibilityRule, error)
	ReplaceRules(ctx context.Context, rules []engine.CompatibilityRule) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Controller *engine.Controller
	RuleStore  RuleStore
	Factory    *factory.RuleFactory

	// mu guards the cached rule table across replacements.
	mu    sync.RWMutex
	rules []engine.CompatibilityRule
}

// NewHandler creates a new handler around the lifecycle controller.
// rules is the table the controller's oracle was built from.
func NewHandler(c *engine.Controller, rs RuleStore, rules []engine.CompatibilityRule) *Handler {
	return &Handler{
		Controller: c,
		RuleStore:  rs,
		Factory:    factory.NewRuleFactory(),
		rules:      rules,
	}
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListUnits returns inventory, optionally filtered by status.
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	var status *engine.UnitStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := engine.ParseUnitStatus(s)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		status = &st
	}

	units, err := h.Controller.Store.ListUnits(r.Context(), status)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]UnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUnit adds a manually entered unit.
func (h *Handler) CreateUnit(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unit, err := h.Controller.CreateUnit(r.Context(),
		engine.BloodType(req.BloodType), engine.Component(req.Component), engine.NewVolume(req.VolumeMl))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// GetUnit returns a single unit.
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := h.Controller.Store.Unit(r.Context(), engine.UnitID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(unit))
}

// DiscardUnit takes an available unit out of circulation.
func (h *Handler) DiscardUnit(w http.ResponseWriter, r *http.Request) {
	unit, err := h.Controller.DiscardUnit(r.Context(), engine.UnitID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(unit))
}

// GetAvailability summarizes usable stock for a recipient type.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	recipient := engine.BloodType(r.URL.Query().Get("blood_type"))
	component := engine.Component(r.URL.Query().Get("component"))

	minRemaining := engine.ZeroVolume()
	if s := r.URL.Query().Get("min_remaining_ml"); s != "" {
		v, err := engine.ParseVolume(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid min_remaining_ml", err)
			return
		}
		minRemaining = v
	}

	summary, err := h.Controller.ListAvailability(r.Context(), recipient, component, minRemaining)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dto := AvailabilityDTO{
		Recipient:   string(summary.Recipient),
		Component:   string(summary.Component),
		Groups:      make([]AvailabilityGroupDTO, 0, len(summary.Groups)),
		RemainingMl: ml(summary.TotalRemaining),
	}
	for _, g := range summary.Groups {
		gd := AvailabilityGroupDTO{
			BloodType:   string(g.BloodType),
			UnitCount:   g.UnitCount,
			RemainingMl: ml(g.TotalRemaining),
		}
		if g.NextExpiry != nil {
			gd.NextExpiry = g.NextExpiry.Format("2006-01-02")
		}
		dto.Groups = append(dto.Groups, gd)
	}
	writeJSON(w, http.StatusOK, dto)
}

// RecordDonation books a donated unit against the active period.
func (h *Handler) RecordDonation(w http.ResponseWriter, r *http.Request) {
	var req CreateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unit, err := h.Controller.RecordDonation(r.Context(),
		engine.BloodType(req.BloodType), engine.Component(req.Component), engine.NewVolume(req.VolumeMl))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(unit))
}

// CreatePeriod opens a collection period.
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start date (use YYYY-MM-DD)", err)
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end date (use YYYY-MM-DD)", err)
		return
	}

	period, err := h.Controller.OpenPeriod(r.Context(), req.Name, start, end)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPeriodDTO(period))
}

// =============================================================================
// DEMAND HANDLERS
// =============================================================================

// ListDemands returns demands, optionally filtered by status.
func (h *Handler) ListDemands(w http.ResponseWriter, r *http.Request) {
	var status *engine.DemandStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := engine.ParseDemandStatus(s)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		status = &st
	}

	demands, err := h.Controller.Store.ListDemands(r.Context(), status)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]DemandDTO, len(demands))
	for i, d := range demands {
		dtos[i] = toDemandDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDemand creates a routine demand.
func (h *Handler) CreateDemand(w http.ResponseWriter, r *http.Request) {
	var req CreateDemandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	demand, err := h.Controller.CreateRoutine(r.Context(),
		engine.BloodType(req.BloodType), engine.Component(req.Component),
		engine.NewVolume(req.VolumeMl), req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDemandDTO(demand))
}

// CreateUrgentDemand creates an urgent demand, possibly untyped.
func (h *Handler) CreateUrgentDemand(w http.ResponseWriter, r *http.Request) {
	var req CreateUrgentDemandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := engine.UrgentInput{
		BloodType: engine.BloodType(req.BloodType),
		Component: engine.Component(req.Component),
		Volume:    engine.NewVolume(req.VolumeMl),
		Patient:   engine.PatientDetails{Name: req.PatientName, Contact: req.PatientContact},
		Reason:    req.Reason,
	}
	if req.OriginLat != nil && req.OriginLon != nil {
		in.Origin = &geo.Point{Lat: *req.OriginLat, Lon: *req.OriginLon}
	}

	demand, err := h.Controller.CreateUrgent(r.Context(), in)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDemandDTO(demand))
}

// GetDemand returns a demand and its reservation links.
func (h *Handler) GetDemand(w http.ResponseWriter, r *http.Request) {
	id := engine.DemandID(chi.URLParam(r, "id"))

	demand, err := h.Controller.Store.Demand(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	links, err := h.Controller.Store.LinksByDemand(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	detail := DemandDetailDTO{Demand: toDemandDTO(demand), Links: make([]LinkDTO, len(links))}
	for i, l := range links {
		detail.Links[i] = toLinkDTO(l)
	}
	writeJSON(w, http.StatusOK, detail)
}

// ResolveType sets the blood type of an untyped urgent demand.
func (h *Handler) ResolveType(w http.ResponseWriter, r *http.Request) {
	var req ResolveTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	demand, err := h.Controller.ResolveBloodType(r.Context(),
		engine.DemandID(chi.URLParam(r, "id")), engine.BloodType(req.BloodType))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// PlanDemand computes a read-only allocation plan.
func (h *Handler) PlanDemand(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Controller.PlanAllocation(r.Context(), engine.DemandID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

// ApproveDemand commits a selection without preemption rights.
func (h *Handler) ApproveDemand(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	demand, err := h.Controller.Approve(r.Context(),
		engine.DemandID(chi.URLParam(r, "id")), toSelections(req.Selections))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// AssignDemand commits a selection for an urgent demand, optionally
// preempting routine reservations.
func (h *Handler) AssignDemand(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	demand, err := h.Controller.AssignUrgent(r.Context(),
		engine.DemandID(chi.URLParam(r, "id")), toSelections(req.Selections), req.AllowPreemption)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// CompleteDemand consumes the reserved volumes and closes the demand.
func (h *Handler) CompleteDemand(w http.ResponseWriter, r *http.Request) {
	demand, err := h.Controller.Complete(r.Context(), engine.DemandID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// CancelDemand releases reservations and closes the demand.
func (h *Handler) CancelDemand(w http.ResponseWriter, r *http.Request) {
	demand, err := h.Controller.Cancel(r.Context(), engine.DemandID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// RejectDemand rejects a pending demand.
func (h *Handler) RejectDemand(w http.ResponseWriter, r *http.Request) {
	demand, err := h.Controller.Reject(r.Context(), engine.DemandID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDemandDTO(demand))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns the active compatibility table.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	rules := h.rules
	h.mu.RUnlock()
	writeJSON(w, http.StatusOK, rulesPayload(rules))
}

// UpdateRules replaces the compatibility table wholesale. The incoming
// table is validated by the rule factory before anything is written;
// once persisted, the rebuilt oracle is swapped into the planner and
// the reservation manager so subsequent plans and commits honor it.
func (h *Handler) UpdateRules(w http.ResponseWriter, r *http.Request) {
	var req factory.RuleSetJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rules, err := h.Factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule table", err)
		return
	}

	if err := h.RuleStore.ReplaceRules(r.Context(), rules); err != nil {
		writeEngineError(w, err)
		return
	}

	oracle := engine.NewOracle(rules)
	h.mu.Lock()
	h.rules = rules
	h.Controller.Planner.Oracle = oracle
	h.Controller.Reservations.Oracle = oracle
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, rulesPayload(rules))
}

func rulesPayload(rules []engine.CompatibilityRule) map[string]any {
	dtos := make([]RuleDTO, 0, len(rules))
	for _, rule := range rules {
		dtos = append(dtos, RuleDTO{
			Donor:      string(rule.Donor),
			Recipient:  string(rule.Recipient),
			Component:  string(rule.Component),
			Compatible: rule.Compatible,
		})
	}
	return map[string]any{"rules": dtos}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps engine error categories to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict - re-plan and retry", err)
	case engine.IsState(err):
		writeError(w, http.StatusUnprocessableEntity, "Operation not allowed in current state", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
