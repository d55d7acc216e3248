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

package loader

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sentinela-project/sentinela/internal/croneval"
	"github.com/sentinela-project/sentinela/internal/models"
	"github.com/sentinela-project/sentinela/internal/monitors"
)

const maxMonitorNameLength = 255

var monitorNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidationError aggregates everything wrong with a monitor module. A
// monitor failing validation is never registered.
type ValidationError struct {
	MonitorName string
	Errors      []string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("monitor '%s' has the following errors: %s",
		e.MonitorName, strings.Join(e.Errors, "; "))
}

// CheckMonitor validates a monitor module's name and options, returning
// every problem found instead of stopping at the first one.
func CheckMonitor(eval *croneval.Evaluator, name string, module monitors.Module) []string {
	var errs []string

	errs = append(errs, checkName(name)...)
	errs = append(errs, checkOptions(eval, module.Options())...)
	errs = append(errs, checkIssueOptions(module)...)
	errs = append(errs, checkAlertOptions(module)...)
	errs = append(errs, checkReactionOptions(module)...)

	return errs
}

func checkName(name string) []string {
	var errs []string
	if name == "" {
		errs = append(errs, "'name' is required")
		return errs
	}
	if len(name) > maxMonitorNameLength {
		errs = append(errs, fmt.Sprintf("'name' must have at most %d characters", maxMonitorNameLength))
	}
	if !monitorNamePattern.MatchString(name) {
		errs = append(errs, fmt.Sprintf("'name' has invalid characters: '%s'", name))
	}
	return errs
}

func checkOptions(eval *croneval.Evaluator, options monitors.Options) []string {
	var errs []string
	if options.SearchCron != "" {
		if err := eval.Validate(options.SearchCron); err != nil {
			errs = append(errs, fmt.Sprintf("'monitor_options.search_cron' is invalid: %v", err))
		}
	}
	if options.UpdateCron != "" {
		if err := eval.Validate(options.UpdateCron); err != nil {
			errs = append(errs, fmt.Sprintf("'monitor_options.update_cron' is invalid: %v", err))
		}
	}
	if options.SearchCron == "" && options.UpdateCron == "" {
		errs = append(errs, "'monitor_options' must schedule at least one routine")
	}
	if options.MaxIssuesCreation < 0 {
		errs = append(errs, "'monitor_options.max_issues_creation' must not be negative")
	}
	if options.ExecutionTimeout < 0 {
		errs = append(errs, "'monitor_options.execution_timeout' must not be negative")
	}
	if options.ExecutionTimeout > 0 && options.ExecutionTimeout < time.Second {
		errs = append(errs, "'monitor_options.execution_timeout' must be at least one second")
	}
	return errs
}

func checkIssueOptions(module monitors.Module) []string {
	var errs []string
	issueOptions := module.IssueOptions()

	if issueOptions.ModelIDKey == "" {
		errs = append(errs, "'issue_options.model_id_key' is required")
	}
	if issueOptions.IsSolvable() {
		if _, ok := module.(monitors.SolvedChecker); !ok {
			errs = append(errs, "'is_solved' is required when issues are solvable")
		}
	}
	return errs
}

func checkAlertOptions(module monitors.Module) []string {
	alertOptions := monitors.ModuleAlertOptions(module)
	if alertOptions == nil {
		return nil
	}

	var errs []string
	switch rule := alertOptions.Rule.(type) {
	case nil:
		errs = append(errs, "'alert_options.rule' is required")
	case models.ValueRule:
		if rule.ValueKey == "" {
			errs = append(errs, "'alert_options.rule.value_key' is required")
		}
		if rule.Operation != models.OperationGreaterThan && rule.Operation != models.OperationLesserThan {
			errs = append(errs, fmt.Sprintf("'alert_options.rule.operation' is invalid: '%s'", rule.Operation))
		}
	default:
		// Age, count and custom rules need no value checks.
	}
	return errs
}

func checkReactionOptions(module monitors.Module) []string {
	reactionOptions := monitors.ModuleReactions(module)
	if reactionOptions == nil {
		return nil
	}

	var errs []string
	for eventName, reactions := range reactionOptions {
		if _, known := models.KnownEventNames[eventName]; !known {
			errs = append(errs, fmt.Sprintf("'reaction_options' has an unknown event: '%s'", eventName))
		}
		for i, reaction := range reactions {
			if reaction == nil {
				errs = append(errs, fmt.Sprintf("'reaction_options.%s[%d]' must be a function", eventName, i))
			}
		}
	}
	return errs
}
