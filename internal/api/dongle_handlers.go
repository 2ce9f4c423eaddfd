package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dongle-server/dongle-server/internal/models"
	"github.com/dongle-server/dongle-server/internal/storage"
)

// HandleListDongles lists stored dongles
func (s *RESTServer) HandleListDongles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := pagination(r)

	filters := storage.DongleFilters{
		Search: r.URL.Query().Get("search"),
	}
	if present, err := strconv.ParseBool(r.URL.Query().Get("present")); err == nil {
		filters.PresentOnly = present
	}

	dongles, total, err := s.store.ListDongles(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"dongles": dongles,
		"total":   total,
	})
}

// HandleLiveDongles asks the bridge for the devices it currently sees
func (s *RESTServer) HandleLiveDongles(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	reply, err := s.requestBridge(r.Context(), models.SubjectCmdDevices, models.DevicesRequest{Refresh: refresh})
	s.respondBridge(w, reply, err)
}

// HandleGetDongle gets a dongle with its last stored state
func (s *RESTServer) HandleGetDongle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dongle, err := s.store.GetDongle(ctx, chi.URLParam(r, "imei"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "dongle not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, dongle)
}

// HandleGetDongleState returns the stored state of a dongle. The state is
// read through the bridge when refresh=true or nothing is stored yet.
func (s *RESTServer) HandleGetDongleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	imei := chi.URLParam(r, "imei")

	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	if !refresh {
		state, err := s.store.GetDongleState(ctx, imei)
		if err == nil {
			s.respondJSON(w, http.StatusOK, state)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	reply, err := s.requestBridge(ctx, models.SubjectCmdState, models.StateRequest{IMEI: imei, Refresh: refresh})
	if err != nil || !reply.OK {
		s.respondBridge(w, reply, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reply.State)
}
