package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/breaker"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/core"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/router"
	"github.com/nurcahyapriantoro/Agrilends-sub001/internal/scaler"
	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// Handler serves the admin and record routing API.
type Handler struct {
	core *core.Core
}

// NewHandler creates the API handler over the routing core.
func NewHandler(c *core.Core) *Handler {
	return &Handler{core: c}
}

// Routes returns the full API with the default middleware applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.handleHealth)

	mux.HandleFunc("GET /v1/partitions", h.handleListPartitions)
	mux.HandleFunc("POST /v1/partitions", h.handleRegisterPartition)
	mux.HandleFunc("GET /v1/partitions/{id}", h.handleGetPartition)
	mux.HandleFunc("POST /v1/partitions/{id}/readonly", h.handleMarkReadOnly)
	mux.HandleFunc("POST /v1/partitions/{id}/activate", h.handleMarkActive)
	mux.HandleFunc("POST /v1/partitions/{id}/metrics", h.handleUpdateMetrics)

	mux.HandleFunc("GET /v1/circuits", h.handleListCircuits)
	mux.HandleFunc("GET /v1/balancer", h.handleBalancer)
	mux.HandleFunc("PUT /v1/balancer/strategy", h.handleUpdateStrategy)
	mux.HandleFunc("GET /v1/scaling/decisions", h.handleScalingDecisions)

	mux.HandleFunc("POST /v1/records", h.handleCreateRecord)
	mux.HandleFunc("GET /v1/records", h.handleQueryRecords)
	mux.HandleFunc("GET /v1/owners/{key}", h.handleResolveOwner)

	return DefaultMiddleware()(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// partitionView is a partition snapshot with its circuit state attached.
type partitionView struct {
	types.PartitionSnapshot
	Circuit string `json:"circuit"`
}

func (h *Handler) handleListPartitions(w http.ResponseWriter, r *http.Request) {
	snaps := h.core.ListPartitions()
	views := make([]partitionView, 0, len(snaps))
	for _, snap := range snaps {
		view := partitionView{PartitionSnapshot: snap, Circuit: breaker.StateClosed.String()}
		if status, ok := h.core.CircuitStatus(snap.Info.ID); ok {
			view.Circuit = status.State.String()
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

type registerPartitionRequest struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Weight   uint32 `json:"weight"`
}

func (h *Handler) handleRegisterPartition(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req registerPartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "", requestID)
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required", "", requestID)
		return
	}
	if req.ID == "" {
		req.ID = "p-" + uuid.NewString()
	}

	info := types.PartitionInfo{
		ID:       types.PartitionID(req.ID),
		Endpoint: req.Endpoint,
		Weight:   req.Weight,
	}
	if err := h.core.RegisterPartition(info); err != nil {
		writeShardError(w, err, requestID)
		return
	}
	snap, err := h.core.GetPartition(info.ID)
	if err != nil {
		writeShardError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (h *Handler) handleGetPartition(w http.ResponseWriter, r *http.Request) {
	id := types.PartitionID(r.PathValue("id"))
	snap, err := h.core.GetPartition(id)
	if err != nil {
		writeShardError(w, err, GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMarkReadOnly(w http.ResponseWriter, r *http.Request) {
	id := types.PartitionID(r.PathValue("id"))
	if err := h.core.MarkReadOnly(id); err != nil {
		writeShardError(w, err, GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read-only"})
}

func (h *Handler) handleMarkActive(w http.ResponseWriter, r *http.Request) {
	id := types.PartitionID(r.PathValue("id"))
	if err := h.core.MarkActive(id); err != nil {
		writeShardError(w, err, GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (h *Handler) handleUpdateMetrics(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	id := types.PartitionID(r.PathValue("id"))

	var metrics types.PartitionMetrics
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "", requestID)
		return
	}
	if err := h.core.UpdateMetrics(id, metrics); err != nil {
		writeShardError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// circuitView pairs a partition with its breaker status.
type circuitView struct {
	Partition types.PartitionID `json:"partition"`
	Status    breaker.Status    `json:"status"`
}

func (h *Handler) handleListCircuits(w http.ResponseWriter, r *http.Request) {
	snaps := h.core.ListPartitions()
	views := make([]circuitView, 0, len(snaps))
	for _, snap := range snaps {
		status, ok := h.core.CircuitStatus(snap.Info.ID)
		if !ok {
			status = breaker.Status{State: breaker.StateClosed}
		}
		views = append(views, circuitView{Partition: snap.Info.ID, Status: status})
	}
	writeJSON(w, http.StatusOK, views)
}

type balancerView struct {
	Config types.BalancerConfig `json:"config"`
	Stats  interface{}          `json:"stats"`
}

func (h *Handler) handleBalancer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, balancerView{
		Config: h.core.BalancerConfig(),
		Stats:  h.core.BalancerStats(),
	})
}

func (h *Handler) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var cfg types.BalancerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "", requestID)
		return
	}
	// Unset tuning fields inherit the active configuration.
	current := h.core.BalancerConfig()
	if cfg.StorageWeight == 0 && cfg.LatencyWeight == 0 {
		cfg.StorageWeight = current.StorageWeight
		cfg.LatencyWeight = current.LatencyWeight
	}

	applied, err := h.core.UpdateStrategy(cfg)
	if err != nil {
		writeShardError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

func (h *Handler) handleScalingDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := h.core.ScalingDecisions()
	if decisions == nil {
		decisions = []scaler.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

type createRecordRequest struct {
	ID       string `json:"id"`
	OwnerKey string `json:"owner_key"`
	Payload  []byte `json:"payload"`
}

type createRecordResponse struct {
	Record    types.Record      `json:"record"`
	Partition types.PartitionID `json:"partition"`
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "", requestID)
		return
	}
	if req.OwnerKey == "" {
		writeError(w, http.StatusBadRequest, "owner_key is required", "", requestID)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	rec := types.Record{
		ID:        req.ID,
		OwnerKey:  req.OwnerKey,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
	}
	target, err := h.core.CreateRecord(r.Context(), rec)
	if err != nil {
		writeShardError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusCreated, createRecordResponse{Record: rec, Partition: target})
}

func (h *Handler) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required", "", requestID)
		return
	}

	op := router.Op{
		Kind:       types.OperationList,
		SortBy:     router.SortField(r.URL.Query().Get("sort")),
		Descending: r.URL.Query().Get("desc") == "true",
	}
	switch op.SortBy {
	case router.SortNone, router.SortCreatedAt, router.SortRecordID:
	default:
		writeError(w, http.StatusBadRequest, "unsupported sort field: "+string(op.SortBy), "", requestID)
		return
	}

	res, err := h.core.RouteQuery(r.Context(), owner, op)
	if err != nil {
		writeShardError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ownerView struct {
	OwnerKey  string            `json:"owner_key"`
	Partition types.PartitionID `json:"partition"`
}

func (h *Handler) handleResolveOwner(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	id, err := h.core.ResolveExistingRecordTarget(key)
	if err != nil {
		writeShardError(w, err, GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, ownerView{OwnerKey: key, Partition: id})
}
