/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/loader"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/queue"
	"github.com/sentinela-project/sentinela/internal/registry"
	"github.com/sentinela-project/sentinela/internal/store"
)

// DiagnosticsFunc reports a component's internal status and its current
// problems. Components with problems turn the aggregated status degraded.
type DiagnosticsFunc func() (models.JSONMap, []string)

// statusMessages are appended to an all-ok status response.
var statusMessages = []string{
	"And the science gets done and you make a neat gun for the people who are *still alive*",
	"Think of all the things we learned for the people who are *still alive*",
	"I have experiments to run, there is research to be done, on the people who are *still alive*",
	"Believe me I am *still alive*",
	"I'm doing science and I'm *still alive*",
	"I feel fantastic and I'm *still alive*",
	"While you're dying I'll be *still alive*",
	"When you're dead I'll be *still alive*",
}

// Handlers contains all API handlers
type Handlers struct {
	store      store.Store
	queue      queue.Queue
	registry   *registry.Registry
	loader     *loader.Loader
	eval       *croneval.Evaluator
	controller DiagnosticsFunc
	executor   DiagnosticsFunc
	log        logr.Logger
}

// NewHandlers creates a new Handlers instance. The controller and executor
// diagnostics are nil when the respective role is not enabled.
func NewHandlers(
	st store.Store,
	q queue.Queue,
	reg *registry.Registry,
	ld *loader.Loader,
	eval *croneval.Evaluator,
	controller DiagnosticsFunc,
	executor DiagnosticsFunc,
	log logr.Logger,
) *Handlers {
	return &Handlers{
		store:      st,
		queue:      q,
		registry:   reg,
		loader:     ld,
		eval:       eval,
		controller: controller,
		executor:   executor,
		log:        log,
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response carrying a user-facing message
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Status: "error", Message: message})
}

// writeServerError writes a 500 response for an internal failure
func writeServerError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Status: "error", Error: err.Error()})
}

// GetStatus handles GET / and GET /status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:         "ok",
		MonitorsLoaded: h.registry.Names(),
		Components:     map[string]ComponentStatus{},
	}

	if h.controller != nil {
		status, issues := h.controller()
		resp.Components["controller"] = ComponentStatus{Status: status, Issues: issues}
		if len(issues) > 0 {
			resp.Status = "degraded"
		}
	}
	if h.executor != nil {
		status, issues := h.executor()
		resp.Components["executor"] = ComponentStatus{Status: status, Issues: issues}
		if len(issues) > 0 {
			resp.Status = "degraded"
		}
	}

	if resp.Status == "ok" {
		resp.Message = statusMessages[rand.IntN(len(statusMessages))]
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListMonitors handles GET /monitor/list
func (h *Handlers) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.store.ListMonitors(r.Context())
	if err != nil {
		writeServerError(w, err)
		return
	}

	items := make([]MonitorListItem, 0, len(monitors))
	for _, monitor := range monitors {
		items = append(items, MonitorListItem{
			ID:      monitor.ID,
			Name:    monitor.Name,
			Enabled: monitor.Enabled,
		})
	}

	writeJSON(w, http.StatusOK, items)
}

// GetMonitor handles GET /monitor/{name}
func (h *Handlers) GetMonitor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	monitor, err := h.store.GetMonitorByName(ctx, name)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if monitor == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("monitor '%s' not found", name))
		return
	}

	codeModule, err := h.store.GetCodeModule(ctx, monitor.ID)
	if err != nil {
		writeServerError(w, err)
		return
	}

	resp := MonitorDetailResponse{
		ID:      monitor.ID,
		Name:    monitor.Name,
		Enabled: monitor.Enabled,
	}
	if codeModule != nil {
		resp.Code = codeModule.Code
		resp.AdditionalFiles = codeModule.AdditionalFiles
	}

	writeJSON(w, http.StatusOK, resp)
}

// ValidateMonitor handles POST /monitor/validate. The code is checked under
// a throwaway name so only the module itself is validated.
func (h *Handlers) ValidateMonitor(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCodeRequest(w, r)
	if !ok {
		return
	}

	module, ok := h.loader.ResolveCode(req.MonitorCode)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "error",
			Message: "Module didn't pass check",
			Error:   fmt.Sprintf("no implementation named '%s' is compiled into this build", req.MonitorCode),
		})
		return
	}

	if errs := loader.CheckMonitor(h.eval, probeName(), module); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "error",
			Message: "Module didn't pass check",
			Error:   strings.Join(errs, "; "),
		})
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{Status: "monitor_validated"})
}

// RegisterMonitor handles POST /monitor/register/{name}
func (h *Handlers) RegisterMonitor(w http.ResponseWriter, r *http.Request) {
	// Dots would collide with the builtin naming scheme
	name := strings.ReplaceAll(chi.URLParam(r, "name"), ".", "_")

	req, ok := h.decodeCodeRequest(w, r)
	if !ok {
		return
	}

	module, ok := h.loader.ResolveCode(req.MonitorCode)
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Status:  "error",
			Message: "Module didn't pass check",
			Error:   fmt.Sprintf("no implementation named '%s' is compiled into this build", req.MonitorCode),
		})
		return
	}

	monitor, err := h.loader.RegisterMonitor(r.Context(), name, module, req.MonitorCode, req.AdditionalFiles)
	if err != nil {
		var validationErr *loader.ValidationError
		if errors.As(err, &validationErr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Status:  "error",
				Message: "Module didn't pass check",
				Error:   strings.Join(validationErr.Errors, "; "),
			})
			return
		}
		h.log.Error(err, "monitor registration failed", "monitor", name)
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Status: "error", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{Status: "monitor_registered", MonitorID: monitor.ID})
}

// EnableMonitor handles POST /monitor/{name}/enable
func (h *Handlers) EnableMonitor(w http.ResponseWriter, r *http.Request) {
	h.setMonitorEnabled(w, r, true)
}

// DisableMonitor handles POST /monitor/{name}/disable
func (h *Handlers) DisableMonitor(w http.ResponseWriter, r *http.Request) {
	h.setMonitorEnabled(w, r, false)
}

func (h *Handlers) setMonitorEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	monitor, err := h.store.GetMonitorByName(ctx, name)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if monitor == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("monitor '%s' not found", name))
		return
	}

	if err := h.store.SetMonitorEnabled(ctx, monitor.ID, enabled); err != nil {
		writeServerError(w, err)
		return
	}
	h.registry.RequestReload()

	status := "monitor_disabled"
	if enabled {
		status = "monitor_enabled"
	}
	writeJSON(w, http.StatusOK, MonitorToggleResponse{Status: status, MonitorName: name})
}

// AcknowledgeAlert handles POST /alert/{id}/acknowledge
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	h.queueAlertAction(w, r, queue.ActionAlertAcknowledge)
}

// LockAlert handles POST /alert/{id}/lock
func (h *Handlers) LockAlert(w http.ResponseWriter, r *http.Request) {
	h.queueAlertAction(w, r, queue.ActionAlertLock)
}

// UnlockAlert handles POST /alert/{id}/unlock
func (h *Handlers) UnlockAlert(w http.ResponseWriter, r *http.Request) {
	h.queueAlertAction(w, r, queue.ActionAlertUnlock)
}

// SolveAlert handles POST /alert/{id}/solve
func (h *Handlers) SolveAlert(w http.ResponseWriter, r *http.Request) {
	h.queueAlertAction(w, r, queue.ActionAlertSolve)
}

// DropIssue handles POST /issue/{id}/drop
func (h *Handlers) DropIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := targetID(w, r)
	if !ok {
		return
	}

	issue, err := h.store.GetIssue(r.Context(), id)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if issue == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("issue '%d' not found", id))
		return
	}

	h.queueRequest(w, r, queue.ActionIssueDrop, id)
}

func (h *Handlers) queueAlertAction(w http.ResponseWriter, r *http.Request, action string) {
	id, ok := targetID(w, r)
	if !ok {
		return
	}

	alert, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		writeServerError(w, err)
		return
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("alert '%d' not found", id))
		return
	}

	h.queueRequest(w, r, action, id)
}

// queueRequest enqueues the action; the executor applies it asynchronously.
func (h *Handlers) queueRequest(w http.ResponseWriter, r *http.Request, action string, targetID int64) {
	payload := queue.RequestPayload{Action: action, TargetID: targetID}
	if err := h.queue.SendMessage(r.Context(), queue.TypeRequest, payload); err != nil {
		writeServerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RequestQueuedResponse{
		Status:   "request_queued",
		Action:   action,
		TargetID: targetID,
	})
}

func (h *Handlers) decodeCodeRequest(w http.ResponseWriter, r *http.Request) (*MonitorCodeRequest, bool) {
	var req MonitorCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Status: "error", Error: err.Error()})
		return nil, false
	}
	if req.MonitorCode == "" {
		writeError(w, http.StatusBadRequest, "'monitor_code' parameter is required")
		return nil, false
	}
	return &req, true
}

func targetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "target id must be an integer")
		return 0, false
	}
	return id, true
}

// probeName generates a unique throwaway monitor name for validation runs
func probeName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = letters[rand.IntN(len(letters))]
	}
	return fmt.Sprintf("monitor_%d_%s", time.Now().Unix(), suffix)
}
