package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/3leaps/jobprobe/internal/server/jobs"
)

// maxSubmitBody bounds POST /job bodies.
const maxSubmitBody = 1 << 20

// JobsHandler serves the job API backed by a simulator.
type JobsHandler struct {
	sim *jobs.Simulator

	submitted   *prometheus.CounterVec
	statusReads *prometheus.CounterVec
}

// NewJobsHandler creates a JobsHandler and registers its metrics on reg.
func NewJobsHandler(sim *jobs.Simulator, reg prometheus.Registerer) *JobsHandler {
	h := &JobsHandler{
		sim: sim,
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakebackend",
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted, by model.",
		}, []string{"model"}),
		statusReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakebackend",
			Name:      "status_reads_total",
			Help:      "Job status reads, by reported status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(h.submitted, h.statusReads)
	}
	return h
}

type modelEntry struct {
	ID string `json:"id"`
}

// ListModels serves GET /models. Only loaded models exist in the simulator,
// so the loaded query parameter does not narrow the result.
func (h *JobsHandler) ListModels(w http.ResponseWriter, _ *http.Request) {
	models := h.sim.Models()
	out := make([]modelEntry, 0, len(models))
	for _, m := range models {
		out = append(out, modelEntry{ID: m})
	}
	writeJSON(w, http.StatusOK, out)
}

type submitRequest struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params"`
}

// Submit serves POST /job.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody)).Decode(&req); err != nil {
		respondWithError(w, r, &badRequest{msg: "invalid job request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		respondWithError(w, r, &badRequest{msg: "model is required"})
		return
	}

	job, err := h.sim.Submit(req.Model, req.Prompt)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.submitted.WithLabelValues(job.Model).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID})
}

// Get serves GET /job/{id}.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.sim.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.statusReads.WithLabelValues(st.Status).Inc()
	writeJSON(w, http.StatusOK, st)
}
