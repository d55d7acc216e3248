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

// Package croneval evaluates the five-field cron expressions that schedule
// monitor routines and controller procedures.
package croneval

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Evaluator resolves cron expressions against a fixed time zone so that
// schedules behave the same regardless of the host's local zone.
type Evaluator struct {
	loc *time.Location
}

// New builds an Evaluator for the given IANA time zone name. An empty name
// means UTC.
func New(timeZone string) (*Evaluator, error) {
	if timeZone == "" {
		return &Evaluator{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", timeZone, err)
	}
	return &Evaluator{loc: loc}, nil
}

// Location returns the evaluator's time zone.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Now returns the current time in the evaluator's zone.
func (e *Evaluator) Now() time.Time {
	return time.Now().In(e.loc)
}

// Validate reports whether expr is a parseable cron expression.
func (e *Evaluator) Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// IsTriggered reports whether expr has a scheduled firing after lastTrigger
// and no later than reference. A nil lastTrigger means the schedule never
// fired and is always considered triggered.
func (e *Evaluator) IsTriggered(expr string, lastTrigger *time.Time, reference time.Time) (bool, error) {
	if lastTrigger == nil {
		return true, nil
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	next := sched.Next(lastTrigger.In(e.loc))
	return !next.After(reference.In(e.loc)), nil
}

// NextDelay returns how long after reference the schedule fires next,
// rounded up to a whole second.
func (e *Evaluator) NextDelay(expr string, reference time.Time) (time.Duration, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	ref := reference.In(e.loc)
	d := sched.Next(ref).Sub(ref)
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d, nil
}
