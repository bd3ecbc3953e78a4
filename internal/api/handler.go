package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"MailCourier/internal/csvparser"
	"MailCourier/internal/models"
)

const maxImportBytes = 10 << 20

type Automation interface {
	Start(ctx context.Context) (models.StatusReport, error)
	Stop() models.StatusReport
	RestartFailed(ctx context.Context) (models.StatusReport, error)
	GetStatus(ctx context.Context) models.StatusReport
	GetSettings() models.Settings
	UpdateSettings(ctx context.Context, u models.SettingsUpdate) models.Settings
	GetSchedule() models.Schedule
	UpdateSchedule(ctx context.Context, u models.ScheduleUpdate) (models.Schedule, error)
}

type JobInserter interface {
	InsertJob(ctx context.Context, job *models.EmailJob) error
}

type Handler struct {
	Automation Automation
	Store      JobInserter
	Log        *zap.Logger
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /automation/start", h.Start)
	mux.HandleFunc("POST /automation/stop", h.Stop)
	mux.HandleFunc("POST /automation/restart-failed", h.RestartFailed)
	mux.HandleFunc("GET /automation/status", h.Status)
	mux.HandleFunc("GET /automation/settings", h.GetSettings)
	mux.HandleFunc("PUT /automation/settings", h.UpdateSettings)
	mux.HandleFunc("GET /automation/schedule", h.GetSchedule)
	mux.HandleFunc("PUT /automation/schedule", h.UpdateSchedule)
	mux.HandleFunc("POST /jobs/import", h.ImportJobs)
	return mux
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	report, err := h.Automation.Start(r.Context())
	if err != nil {
		h.Log.Error("start failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, h.Automation.Stop())
}

func (h *Handler) RestartFailed(w http.ResponseWriter, r *http.Request) {
	report, err := h.Automation.RestartFailed(r.Context())
	if err != nil {
		h.Log.Error("restart failed jobs failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Automation.GetStatus(r.Context()))
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Automation.GetSettings())
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var u models.SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.Automation.UpdateSettings(r.Context(), u))
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Automation.GetSchedule())
}

func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var u models.ScheduleUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sch, err := h.Automation.UpdateSchedule(r.Context(), u)
	if err != nil {
		h.Log.Error("schedule update failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

// ImportJobs accepts a CSV body and stores every row as a pending job.
func (h *Handler) ImportJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := csvparser.ParseJobs(http.MaxBytesReader(w, r.Body, maxImportBytes), csvparser.DefaultMaxRows)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ids := make([]int64, 0, len(jobs))
	for i := range jobs {
		if err := h.Store.InsertJob(r.Context(), &jobs[i]); err != nil {
			h.Log.Error("job import failed",
				zap.Int("imported", len(ids)),
				zap.String("recipient", jobs[i].Recipient),
				zap.Error(err),
			)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ids = append(ids, jobs[i].ID)
	}

	h.Log.Info("jobs imported", zap.Int("count", len(ids)))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"imported": len(ids),
		"ids":      ids,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
