package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ridelink/loyalty-service/internal/domain/loyalty"
	"github.com/ridelink/loyalty-service/internal/domain/riders"
)

// LoyaltyService is the read surface of the domain service.
type LoyaltyService interface {
	GetLoyaltyInfo(ctx context.Context, riderID string) (*riders.LoyaltyInfo, error)
	GetFidelityStatus(ctx context.Context, riderID string) (map[loyalty.Status]riders.TierActivity, error)
}

// LoyaltyCache is an optional read-through cache for loyalty lookups.
// A nil info with a nil error is a miss.
type LoyaltyCache interface {
	GetLoyaltyInfo(ctx context.Context, riderID string) (*riders.LoyaltyInfo, error)
	SetLoyaltyInfo(ctx context.Context, riderID string, info *riders.LoyaltyInfo) error
}

type Handler struct {
	service LoyaltyService
	cache   LoyaltyCache
	logger  *slog.Logger
}

// NewHandler creates the read API handler. cache may be nil.
func NewHandler(service LoyaltyService, cache LoyaltyCache, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		cache:   cache,
		logger:  logger,
	}
}

// Register mounts the read endpoints on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /loyalty/{rider_id}", h.getLoyaltyInfo)
	mux.HandleFunc("GET /loyalty/status/{id}", h.getFidelityStatus)
}

func (h *Handler) getLoyaltyInfo(w http.ResponseWriter, r *http.Request) {
	riderID := r.PathValue("rider_id")
	if err := riders.ValidateID(riderID); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if h.cache != nil {
		info, err := h.cache.GetLoyaltyInfo(r.Context(), riderID)
		if err != nil {
			h.logger.Warn("Loyalty cache read failed", "rider_id", riderID, "error", err)
		} else if info != nil {
			h.respond(w, http.StatusOK, info)
			return
		}
	}

	info, err := h.service.GetLoyaltyInfo(r.Context(), riderID)
	if err != nil {
		if errors.Is(err, riders.ErrRiderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to fetch loyalty info", "rider_id", riderID, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetLoyaltyInfo(r.Context(), riderID, info); err != nil {
			h.logger.Warn("Loyalty cache write failed", "rider_id", riderID, "error", err)
		}
	}

	h.respond(w, http.StatusOK, info)
}

func (h *Handler) getFidelityStatus(w http.ResponseWriter, r *http.Request) {
	riderID := r.PathValue("id")
	if err := riders.ValidateID(riderID); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ledger, err := h.service.GetFidelityStatus(r.Context(), riderID)
	if err != nil {
		if errors.Is(err, riders.ErrRiderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to fetch fidelity status", "rider_id", riderID, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.respond(w, http.StatusOK, ledger)
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}
