package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/warranty-desk/internal/metrics"
	custommiddleware "github.com/mmeshcher/warranty-desk/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/vehicles", h.GetVehicles)
			r.Post("/user/vehicles", h.AddVehicle)
			r.Get("/user/warranties", h.GetWarranties)
			r.Get("/user/claims", h.GetClaims)
			r.Get("/user/appointments", h.GetAppointments)

			r.Get("/claims/{id}", h.GetClaim)

			r.Get("/tools", h.ListTools)
			r.Post("/tools/{name}", h.CallTool)
		})

		r.Group(func(r chi.Router) {
			r.Use(custommiddleware.StaffOnly(h.staffToken))

			r.Post("/claims/{id}/status", h.AdvanceClaim)
			r.Post("/appointments/{id}/complete", h.CompleteAppointment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
