// Package handler содержит HTTP API службы гарантийной поддержки.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/warranty-desk/internal/middleware"
	"github.com/mmeshcher/warranty-desk/internal/model"
	"github.com/mmeshcher/warranty-desk/internal/repository"
	"github.com/mmeshcher/warranty-desk/internal/service"
	"github.com/mmeshcher/warranty-desk/internal/tools"
)

const maxBodySize = 1 << 20

// Service определяет операции, которые вызывают HTTP-обработчики напрямую.
type Service interface {
	Ping(ctx context.Context) error
	RegisterCustomer(ctx context.Context, in service.CustomerInput) (*model.Customer, error)
	AuthenticateCustomer(ctx context.Context, email string) (int64, error)
	RegisterVehicle(ctx context.Context, customerID int64, in service.VehicleInput) (*model.Vehicle, error)
	ShowMyVehicles(ctx context.Context, customerID int64) ([]model.Vehicle, error)
	ShowMyWarranties(ctx context.Context, customerID int64) ([]service.VehiclePlans, error)
	ShowMyClaims(ctx context.Context, customerID int64) ([]model.Claim, error)
	GetClaimStatus(ctx context.Context, customerID int64, id string) (*model.Claim, error)
	AdvanceClaim(ctx context.Context, id string, status model.ClaimStatus, reason string) (*model.Claim, error)
	CompleteAppointment(ctx context.Context, id int64) (*model.Appointment, error)
}

// Dispatcher выполняет операции фронтенда.
type Dispatcher interface {
	Dispatch(ctx context.Context, customerID int64, req tools.Request) (any, error)
}

// Handler реализует HTTP API.
type Handler struct {
	service        Service
	tools          Dispatcher
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	staffToken     string
}

// NewHandler создаёт обработчик. Пустой staffToken отключает операции сотрудников.
func NewHandler(s Service, d Dispatcher, logger *zap.Logger, auth *middleware.AuthMiddleware, staffToken string) *Handler {
	return &Handler{
		service:        s,
		tools:          d,
		logger:         logger,
		authMiddleware: auth,
		staffToken:     staffToken,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// statusFor сопоставляет классу отказа HTTP-статус.
func statusFor(err error) int {
	if errors.Is(err, repository.ErrCustomerExists) || errors.Is(err, repository.ErrVehicleExists) {
		return http.StatusConflict
	}
	switch {
	case errors.Is(err, model.KindValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.KindIneligible), errors.Is(err, model.KindLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.KindIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, model.KindNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.KindDeliveryFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", zap.Error(err))
		writeJSON(w, status, errorResponse{Error: http.StatusText(status)})
		return
	}

	resp := errorResponse{Error: http.StatusText(status), Message: err.Error()}
	var rej *model.Rejection
	if errors.As(err, &rej) {
		resp = errorResponse{Error: rej.Code, Kind: string(rej.Kind), Message: rej.Message}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := middleware.GetCustomerIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

type registerRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Register регистрирует клиента и открывает сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.RegisterCustomer(r.Context(), service.CustomerInput{
		Name: req.Name, Email: req.Email, Phone: req.Phone, Address: req.Address,
	})
	if err != nil {
		h.writeError(w, "register customer", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, c.ID)
	writeJSON(w, http.StatusOK, c)
}

type loginRequest struct {
	Email string `json:"email"`
}

// Login открывает сессию клиента по e-mail.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	id, err := h.service.AuthenticateCustomer(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, model.KindNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeError(w, "login customer", err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, id)
	w.WriteHeader(http.StatusOK)
}

type vehicleRequest struct {
	Registration     string `json:"vehicle_registration"`
	Model            string `json:"model"`
	PurchaseDate     string `json:"purchase_date"`
	Odometer         int    `json:"odometer_km"`
	AccidentHistory  bool   `json:"accident_history"`
	OdometerTampered bool   `json:"odometer_tampered"`
}

// AddVehicle регистрирует автомобиль текущего клиента. Дата покупки: DD/MM/YYYY.
func (h *Handler) AddVehicle(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}

	var req vehicleRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	purchased, err := time.ParseInLocation("02/01/2006", strings.TrimSpace(req.PurchaseDate), time.UTC)
	if err != nil {
		h.writeError(w, "add vehicle", model.NewRejection(model.KindValidation, "InvalidPurchaseDate",
			"purchase date must be in DD/MM/YYYY format"))
		return
	}

	v, err := h.service.RegisterVehicle(r.Context(), cid, service.VehicleInput{
		Registration:     req.Registration,
		Model:            req.Model,
		PurchaseDate:     purchased,
		Odometer:         req.Odometer,
		AccidentHistory:  req.AccidentHistory,
		OdometerTampered: req.OdometerTampered,
	})
	if err != nil {
		h.writeError(w, "add vehicle", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetVehicles возвращает автомобили текущего клиента.
func (h *Handler) GetVehicles(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ShowMyVehicles(r.Context(), cid)
	if err != nil {
		h.writeError(w, "get vehicles", err)
		return
	}
	writeList(w, list)
}

// GetWarranties возвращает планы по автомобилям текущего клиента.
func (h *Handler) GetWarranties(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ShowMyWarranties(r.Context(), cid)
	if err != nil {
		h.writeError(w, "get warranties", err)
		return
	}
	writeList(w, list)
}

// GetClaims возвращает претензии текущего клиента.
func (h *Handler) GetClaims(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ShowMyClaims(r.Context(), cid)
	if err != nil {
		h.writeError(w, "get claims", err)
		return
	}
	writeList(w, list)
}

// GetAppointments возвращает записи текущего клиента с местными датой и временем.
func (h *Handler) GetAppointments(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}
	res, err := h.tools.Dispatch(r.Context(), cid, &tools.ViewMyAppointments{})
	if err != nil {
		h.writeError(w, "get appointments", err)
		return
	}
	list, _ := res.([]tools.AppointmentView)
	writeList(w, list)
}

// writeList отвечает 204 на пустой список, как остальные списочные ручки API.
func writeList[T any](w http.ResponseWriter, list []T) {
	if len(list) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetClaim возвращает претензию текущего клиента.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}
	c, err := h.service.GetClaimStatus(r.Context(), cid, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get claim", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListTools возвращает описания операций фронтенда.
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tools.Definitions())
}

// CallTool выполняет операцию фронтенда; тело запроса: аргументы операции.
func (h *Handler) CallTool(w http.ResponseWriter, r *http.Request) {
	cid, ok := h.customerID(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	req, err := tools.Decode(chi.URLParam(r, "name"), raw)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			h.writeError(w, "call tool", model.NewRejection(model.KindNotFound, "UnknownTool", err.Error()))
			return
		}
		h.writeError(w, "call tool", err)
		return
	}

	res, err := h.tools.Dispatch(r.Context(), cid, req)
	if err != nil {
		h.writeError(w, "call tool "+req.Name(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type claimStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// AdvanceClaim переводит претензию в новый статус. Операция сотрудника.
func (h *Handler) AdvanceClaim(w http.ResponseWriter, r *http.Request) {
	var req claimStatusRequest
	if err := decodeJSON(r, &req); err != nil || req.Status == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.AdvanceClaim(r.Context(), chi.URLParam(r, "id"), model.ClaimStatus(req.Status), req.Reason)
	if err != nil {
		h.writeError(w, "advance claim", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CompleteAppointment отмечает запись выполненной. Операция сотрудника.
func (h *Handler) CompleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := service.ParseAppointmentID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "complete appointment", err)
		return
	}
	a, err := h.service.CompleteAppointment(r.Context(), id)
	if err != nil {
		h.writeError(w, "complete appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Health проверяет доступность хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
