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

// Package reactions provides the bundled notification channels and the
// reactions that connect them to alert lifecycle events. A Hub owns the
// configured channels; monitors subscribe its reactions to get notified
// when their alerts open and have the notifications closed when they solve.
package reactions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentinela-project/sentinela/internal/models"
)

// Note is the rendered view of an alert handed to a notification channel.
type Note struct {
	EventName string
	Monitor   string
	AlertID   int64
	Priority  models.Priority
	Data      models.JSONMap
	Timestamp time.Time
}

// Notifier delivers alert notes to one external target.
type Notifier interface {
	// Name identifies the channel; it is the notification target key.
	Name() string

	// Send delivers a note
	Send(ctx context.Context, note Note) error

	// Test sends a test note
	Test(ctx context.Context) error
}

// notifyHTTPClient is shared by all channels. The transport timeouts keep a
// slow endpoint from holding a reaction until its context deadline.
var notifyHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	},
}

// Template functions for note formatting
var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time, layout string) string {
		if layout == "RFC3339" {
			return t.Format(time.RFC3339)
		}
		return t.Format(layout)
	},
	"truncate": func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"toJson": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(b)
	},
}

// newLimiter builds a per-channel rate limiter from an hourly cap.
func newLimiter(maxPerHour, burst int) *rate.Limiter {
	if maxPerHour <= 0 {
		maxPerHour = 100
	}
	if burst <= 0 {
		burst = 10
	}
	return rate.NewLimiter(rate.Limit(float64(maxPerHour)/3600), burst)
}

// rateLimitError reports a channel that refused a note to protect its target.
func rateLimitError(channel string) error {
	return fmt.Errorf("rate limit exceeded for channel %s", channel)
}
