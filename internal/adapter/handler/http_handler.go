package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/telbo/device-inventory/internal/core/domain"
	"github.com/telbo/device-inventory/internal/core/service"
	"github.com/telbo/device-inventory/internal/port"
)

type HTTPHandler struct {
	reservations *service.ReservationService
}

func NewHTTPHandler(reservations *service.ReservationService) *HTTPHandler {
	return &HTTPHandler{reservations: reservations}
}

// Routes mounts the reservation API on a chi router.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Post("/api/reservations", h.CreateReservation)
	r.Post("/api/reservations/{id}/confirm", h.ConfirmReservation)
	r.Post("/api/reservations/{id}/cancel", h.CancelReservation)
	r.Get("/api/devices/{deviceID}/availability", h.GetAvailability)
	r.Get("/health", h.HealthCheck)
}

type CreateReservationRequest struct {
	RequestID  string `json:"request_id,omitempty"`
	DeviceID   string `json:"device_id"`
	Color      string `json:"color"`
	Storage    string `json:"storage"`
	Quantity   int    `json:"quantity"`
	CustomerID string `json:"customer_id,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type CreateReservationResponse struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func (h *HTTPHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.DeviceID == "" || req.Color == "" || req.Storage == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing required fields"})
		return
	}

	res, err := h.reservations.CreateReservation(r.Context(), service.CreateParams{
		RequestID:  req.RequestID,
		DeviceID:   req.DeviceID,
		Color:      req.Color,
		Storage:    req.Storage,
		Quantity:   req.Quantity,
		CustomerID: req.CustomerID,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateReservationResponse{
		ReservationID: res.ID,
		ExpiresAt:     res.ExpiresAt,
	})
}

func (h *HTTPHandler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.reservations.ConfirmReservation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "confirmed"})
}

func (h *HTTPHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.reservations.CancelReservation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "cancelled"})
}

func (h *HTTPHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	availability, err := h.reservations.GetAvailability(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// writeError maps the service error taxonomy onto HTTP statuses. Lock
// timeouts are retryable, so they carry a Retry-After hint.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "quantity must be a positive integer"})
	case errors.Is(err, service.ErrStockNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "stock item not found"})
	case errors.Is(err, service.ErrReservationNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "reservation not found"})
	case errors.Is(err, domain.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "not available"})
	case errors.Is(err, service.ErrAlreadyTerminal):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "reservation already terminal"})
	case errors.Is(err, service.ErrDuplicateRequest):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "duplicate request"})
	case errors.Is(err, port.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "try again"})
	case errors.Is(err, port.ErrLockInterrupted):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "request interrupted"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
