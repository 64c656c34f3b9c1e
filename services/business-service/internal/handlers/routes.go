package handlers

import (
	"net/http"

	"github.com/agendizo/agendizo/libs/httpx"
)

// Register mounts the owner API on mux. wrap is applied to every route, usually auth.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	routes := map[string]map[string]http.HandlerFunc{
		"/api/v1/business/profile": {
			http.MethodGet: h.GetProfile,
			http.MethodPut: h.UpdateProfile,
		},
		"/api/v1/business/services": {
			http.MethodGet:    h.ListServices,
			http.MethodPost:   h.CreateService,
			http.MethodPut:    h.UpdateService,
			http.MethodDelete: h.DeactivateService,
		},
		"/api/v1/business/clients": {
			http.MethodGet:    h.ListClients,
			http.MethodPost:   h.CreateClient,
			http.MethodPut:    h.UpdateClient,
			http.MethodDelete: h.DeleteClient,
		},
		"/api/v1/business/working-days": {
			http.MethodGet: h.ListWorkingDays,
			http.MethodPut: h.ReplaceWorkingDays,
		},
		"/api/v1/business/time-slots": {
			http.MethodGet:    h.ListTimeSlots,
			http.MethodPost:   h.AddTimeSlot,
			http.MethodDelete: h.DeleteTimeSlot,
		},
		"/api/v1/business/opening-hours": {
			http.MethodGet:    h.ListOpeningHours,
			http.MethodPut:    h.UpsertOpeningHours,
			http.MethodDelete: h.DeleteOpeningHours,
		},
		"/api/v1/business/holidays": {
			http.MethodGet:    h.ListHolidays,
			http.MethodPost:   h.AddHoliday,
			http.MethodDelete: h.DeleteHoliday,
		},
	}
	for path, methods := range routes {
		mux.Handle(path, wrap(httpx.Methods(methods)))
	}
}
