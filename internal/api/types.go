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
	"github.com/sentinela-project/sentinela/internal/models"
)

// StatusResponse is the response for GET / and GET /status
type StatusResponse struct {
	Status         string                     `json:"status"`
	MonitorsLoaded []string                   `json:"monitors_loaded"`
	Components     map[string]ComponentStatus `json:"components"`
	Message        string                     `json:"_message,omitempty"`
}

// ComponentStatus carries one component's self-diagnostics
type ComponentStatus struct {
	Status models.JSONMap `json:"status"`
	Issues []string       `json:"issues"`
}

// MonitorListItem is a single monitor in GET /monitor/list
type MonitorListItem struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// MonitorDetailResponse is the response for GET /monitor/{name}
type MonitorDetailResponse struct {
	ID              int64                `json:"id"`
	Name            string               `json:"name"`
	Enabled         bool                 `json:"enabled"`
	Code            string               `json:"code"`
	AdditionalFiles models.JSONStringMap `json:"additional_files,omitempty"`
}

// MonitorCodeRequest is the body of POST /monitor/validate and
// POST /monitor/register/{name}
type MonitorCodeRequest struct {
	MonitorCode     string               `json:"monitor_code"`
	AdditionalFiles models.JSONStringMap `json:"additional_files,omitempty"`
}

// ValidateResponse is the response for POST /monitor/validate
type ValidateResponse struct {
	Status string `json:"status"`
}

// RegisterResponse is the response for POST /monitor/register/{name}
type RegisterResponse struct {
	Status    string `json:"status"`
	MonitorID int64  `json:"monitor_id"`
}

// MonitorToggleResponse is the response for POST /monitor/{name}/enable and
// POST /monitor/{name}/disable
type MonitorToggleResponse struct {
	Status      string `json:"status"`
	MonitorName string `json:"monitor_name"`
}

// RequestQueuedResponse is the response of every action route. Actions only
// enqueue a request message; the executor applies the mutation.
type RequestQueuedResponse struct {
	Status   string `json:"status"`
	Action   string `json:"action"`
	TargetID int64  `json:"target_id"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
