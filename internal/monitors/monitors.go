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

// Package monitors defines the contract monitor implementations satisfy and
// the option blocks that drive the orchestration pipeline. A module declares
// how to discover problem rows (Search), optionally how to refresh and
// resolve them (Updater, SolvedChecker), and how issues aggregate into
// alerts and fan out reactions (Alerter, Reactor).
package monitors

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/sentinela-project/sentinela/internal/models"
)

// IssueRecord is one problem row produced by a module. It must contain the
// module's IssueOptions.ModelIDKey; other keys are free-form and become the
// issue data.
type IssueRecord map[string]any

// ModelID extracts and stringifies the identity value under key.
func (r IssueRecord) ModelID(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// Data converts the record into persistable issue data.
func (r IssueRecord) Data() models.JSONMap {
	return models.JSONMap(r)
}

// Module is the required capability set of a monitor implementation.
type Module interface {
	// Options returns the scheduling and execution options
	Options() Options

	// IssueOptions returns the issue management options
	IssueOptions() IssueOptions

	// Search discovers problem rows. The returned records are deduplicated
	// against the monitor's active issues before new issues are created.
	Search(ctx context.Context, mon *Context) ([]IssueRecord, error)
}

// Updater is implemented by modules that refresh the data of active issues.
// It receives the data of every active issue and returns the refreshed rows;
// rows missing from the result leave the corresponding issue untouched.
type Updater interface {
	Update(ctx context.Context, mon *Context, issuesData []models.JSONMap) ([]IssueRecord, error)
}

// SolvedChecker is implemented by modules whose issues resolve themselves.
// Modules with solvable issues must implement it.
type SolvedChecker interface {
	IsSolved(data models.JSONMap) bool
}

// Alerter is implemented by modules that aggregate issues into alerts.
type Alerter interface {
	AlertOptions() AlertOptions
}

// Reactor is implemented by modules that subscribe reactions to events.
type Reactor interface {
	ReactionOptions() ReactionOptions
}

// Options are the scheduling and execution options of a module.
type Options struct {
	// SearchCron schedules the search routine. Empty means search never
	// triggers.
	SearchCron string

	// UpdateCron schedules the update routine. Empty means update never
	// triggers.
	UpdateCron string

	// MaxIssuesCreation caps how many issues one search may create.
	// Zero falls back to the application setting.
	MaxIssuesCreation int

	// ExecutionTimeout bounds each routine. Zero falls back to the
	// application setting.
	ExecutionTimeout time.Duration
}

// Timeout returns the execution timeout, falling back when unset
func (o Options) Timeout(fallback time.Duration) time.Duration {
	if o.ExecutionTimeout > 0 {
		return o.ExecutionTimeout
	}
	return fallback
}

// MaxIssues returns the issue creation cap, falling back when unset
func (o Options) MaxIssues(fallback int) int {
	if o.MaxIssuesCreation > 0 {
		return o.MaxIssuesCreation
	}
	return fallback
}

// IssueOptions configure how issues are identified and resolved.
type IssueOptions struct {
	// ModelIDKey is the record key that uniquely identifies each issue,
	// such as an id column of the monitored table.
	ModelIDKey string

	// Solvable indicates whether issues resolve automatically through the
	// solved check. Nil defaults to true; non-solvable issues only leave
	// the active state by being dropped.
	Solvable *bool

	// Unique ensures at most one issue ever exists per model id,
	// regardless of status. Non-solvable issues are often unique to avoid
	// re-creating entries that were dropped on purpose.
	Unique bool
}

// IsSolvable reports whether issues of this module resolve automatically
func (o IssueOptions) IsSolvable() bool {
	return lo.FromPtrOr(o.Solvable, true)
}

// AlertOptions configure how active issues aggregate into an alert.
type AlertOptions struct {
	// Rule computes the alert priority from the active issues
	Rule models.Rule

	// DismissAcknowledgeOnNewIssues clears an acknowledgement whenever new
	// issues are linked to the alert.
	DismissAcknowledgeOnNewIssues bool
}

// Reaction is invoked in response to one event. Failures are logged and do
// not abort sibling reactions.
type Reaction func(ctx context.Context, payload *models.EventPayload) error

// ReactionOptions subscribe reactions to event names.
type ReactionOptions map[string][]Reaction

// Has reports whether at least one reaction subscribes to the event name
func (o ReactionOptions) Has(eventName string) bool {
	return len(o[eventName]) > 0
}

// MergeReactions combines reaction subscriptions. Reactions subscribed to the
// same event run in the order the sets are given.
func MergeReactions(sets ...ReactionOptions) ReactionOptions {
	merged := ReactionOptions{}
	for _, set := range sets {
		for eventName, reactions := range set {
			merged[eventName] = append(merged[eventName], reactions...)
		}
	}
	return merged
}

// ModuleReactions returns the module's reaction subscriptions, empty when
// the module is not a Reactor.
func ModuleReactions(module Module) ReactionOptions {
	if reactor, ok := module.(Reactor); ok {
		return reactor.ReactionOptions()
	}
	return nil
}

// ModuleAlertOptions returns the module's alert options, nil when the module
// is not an Alerter.
func ModuleAlertOptions(module Module) *AlertOptions {
	if alerter, ok := module.(Alerter); ok {
		opts := alerter.AlertOptions()
		return &opts
	}
	return nil
}

// IsSolved runs the module's solved check against issue data. Modules
// without a SolvedChecker never consider issues solved.
func IsSolved(module Module, data models.JSONMap) bool {
	if !module.IssueOptions().IsSolvable() {
		return false
	}
	checker, ok := module.(SolvedChecker)
	if !ok {
		return false
	}
	return checker.IsSolved(data)
}
