package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dongle-server/dongle-server/internal/models"
	"github.com/dongle-server/dongle-server/internal/storage"
)

// HandleSendSMS sends an SMS through a dongle
func (s *RESTServer) HandleSendSMS(w http.ResponseWriter, r *http.Request) {
	var req models.SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.IMEI = chi.URLParam(r, "imei")

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.requestBridge(r.Context(), models.SubjectCmdSMS, req)
	s.respondBridge(w, reply, err)
}

// HandleSendUSSD sends a USSD code through a dongle
func (s *RESTServer) HandleSendUSSD(w http.ResponseWriter, r *http.Request) {
	var req models.USSDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.IMEI = chi.URLParam(r, "imei")

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.requestBridge(r.Context(), models.SubjectCmdUSSD, req)
	s.respondBridge(w, reply, err)
}

// HandleAMICommand runs a raw console command on the manager
func (s *RESTServer) HandleAMICommand(w http.ResponseWriter, r *http.Request) {
	var req models.ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.requestBridge(r.Context(), models.SubjectCmdExec, req)
	s.respondBridge(w, reply, err)
}

// HandleListEvents lists event logs
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, offset := pagination(r)

	filters := storage.EventLogFilters{}
	q := r.URL.Query()

	// Parse filters
	if imei := q.Get("imei"); imei != "" {
		filters.IMEI = &imei
	}

	if eventType := q.Get("type"); eventType != "" {
		modelEventType := models.EventType(eventType)
		filters.Type = &modelEventType
	}

	if level := q.Get("level"); level != "" {
		modelEventLevel := models.EventLevel(level)
		filters.Level = &modelEventLevel
	}

	for name, dst := range map[string]**time.Time{"since": &filters.StartTime, "until": &filters.EndTime} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid "+name+" time, expected RFC3339")
			return
		}
		*dst = &t
	}

	events, total, err := s.store.ListEventLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}
