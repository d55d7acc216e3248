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

package models

import (
	"encoding/json"
	"time"
)

// Priority is the severity scale shared by alerts and priority rules.
type Priority string

const (
	PriorityInformational Priority = "informational"
	PriorityLow           Priority = "low"
	PriorityModerate      Priority = "moderate"
	PriorityHigh          Priority = "high"
	PriorityCritical      Priority = "critical"
)

// prioritiesBySeverity is ordered from most to least severe. Rules walk it
// top-down so the most severe triggered level wins.
var prioritiesBySeverity = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityModerate,
	PriorityLow,
	PriorityInformational,
}

var priorityRanks = map[Priority]int{
	PriorityInformational: 1,
	PriorityLow:           2,
	PriorityModerate:      3,
	PriorityHigh:          4,
	PriorityCritical:      5,
}

// Valid reports whether p is one of the five known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// Rank returns the numeric severity of p, 1 (informational) through 5
// (critical). Unknown priorities rank 0.
func (p Priority) Rank() int {
	return priorityRanks[p]
}

// MoreSevereThan reports whether p outranks other.
func (p Priority) MoreSevereThan(other Priority) bool {
	return p.Rank() > other.Rank()
}

// PriorityLevels holds one optional numeric threshold per priority. A nil
// threshold means the rule can never yield that priority.
type PriorityLevels struct {
	Informational *float64 `json:"informational,omitempty"`
	Low           *float64 `json:"low,omitempty"`
	Moderate      *float64 `json:"moderate,omitempty"`
	High          *float64 `json:"high,omitempty"`
	Critical      *float64 `json:"critical,omitempty"`
}

// Threshold returns the configured threshold for p, or nil when the level
// is not set.
func (l PriorityLevels) Threshold(p Priority) *float64 {
	switch p {
	case PriorityInformational:
		return l.Informational
	case PriorityLow:
		return l.Low
	case PriorityModerate:
		return l.Moderate
	case PriorityHigh:
		return l.High
	case PriorityCritical:
		return l.Critical
	}
	return nil
}

// Level is a convenience for building PriorityLevels literals.
func Level(v float64) *float64 {
	return &v
}

// Rule computes the priority an alert should have for a set of active
// issues. A nil result means no level triggered and an existing alert
// should be solved.
type Rule interface {
	Calculate(issues []*Issue) *Priority
}

// calculate walks the levels from critical down and returns the first
// priority whose threshold triggers.
func calculate(levels PriorityLevels, triggered func(threshold float64) bool) *Priority {
	for _, p := range prioritiesBySeverity {
		threshold := levels.Threshold(p)
		if threshold == nil {
			continue
		}
		if triggered(*threshold) {
			result := p
			return &result
		}
	}
	return nil
}

// AgeRule triggers a level when the oldest active issue is strictly older
// than the level's threshold, in seconds.
type AgeRule struct {
	Levels PriorityLevels
}

// Calculate implements Rule.
func (r AgeRule) Calculate(issues []*Issue) *Priority {
	if len(issues) == 0 {
		return nil
	}
	now := time.Now()
	var oldest float64
	for _, issue := range issues {
		if age := issue.Age(now).Seconds(); age > oldest {
			oldest = age
		}
	}
	return calculate(r.Levels, func(threshold float64) bool {
		return oldest > threshold
	})
}

// CountRule triggers a level when at least the level's threshold of active
// issues exist.
type CountRule struct {
	Levels PriorityLevels
}

// Calculate implements Rule.
func (r CountRule) Calculate(issues []*Issue) *Priority {
	count := float64(len(issues))
	return calculate(r.Levels, func(threshold float64) bool {
		return count >= threshold
	})
}

// ValueOperation selects how ValueRule compares issue values against a
// level's threshold.
type ValueOperation string

const (
	OperationGreaterThan ValueOperation = "greater_than"
	OperationLesserThan  ValueOperation = "lesser_than"
)

// ValueRule triggers a level when any active issue's data value at ValueKey
// compares against the level's threshold under Operation. Issues whose data
// lacks ValueKey, or holds a non-numeric value there, are skipped.
type ValueRule struct {
	ValueKey  string
	Operation ValueOperation
	Levels    PriorityLevels
}

// Calculate implements Rule.
func (r ValueRule) Calculate(issues []*Issue) *Priority {
	values := make([]float64, 0, len(issues))
	for _, issue := range issues {
		if v, ok := toFloat(issue.Data[r.ValueKey]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return calculate(r.Levels, func(threshold float64) bool {
		for _, v := range values {
			switch r.Operation {
			case OperationGreaterThan:
				if v > threshold {
					return true
				}
			case OperationLesserThan:
				if v < threshold {
					return true
				}
			}
		}
		return false
	})
}

// toFloat coerces the numeric types a JSON round-trip can produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
