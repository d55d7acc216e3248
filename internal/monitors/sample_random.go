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

package monitors

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/go-logr/logr"

	"github.com/sentinela-project/sentinela/internal/models"
)

// SampleRandomName is the registered name of the bundled sample monitor.
const SampleRandomName = "sample.random_values"

const (
	sampleIssueChance   = 30
	sampleSolvedBelow   = 30
	sampleSequenceKey   = "seq"
	sampleValueKey      = "value"
	sampleModelIDKey    = "id"
	sampleMaxIssues     = 5
	sampleValueCeiling  = 100
	sampleSolvedCeiling = 101
)

// SampleRandom is a self-contained monitor used to demonstrate and exercise
// the whole pipeline without external systems. Each search has a chance of
// producing an issue carrying a random value; update re-rolls the values and
// issues resolve once their value drops low enough. Issue identities come
// from a sequence persisted as a monitor variable.
type SampleRandom struct {
	log    logr.Logger
	roll   func(n int) int
	notify ReactionOptions
}

// NewSampleRandom creates the sample monitor. Extra reaction sets, such as
// the notification channels, are merged into its own subscriptions.
func NewSampleRandom(log logr.Logger, notify ...ReactionOptions) *SampleRandom {
	return &SampleRandom{
		log:    log.WithName("monitor.sample"),
		roll:   rand.IntN,
		notify: MergeReactions(notify...),
	}
}

// Options schedules frequent runs so the sample visibly does something
func (s *SampleRandom) Options() Options {
	return Options{
		SearchCron:        "* * * * *",
		UpdateCron:        "* * * * *",
		MaxIssuesCreation: sampleMaxIssues,
	}
}

// IssueOptions identify sample issues by their sequence number
func (s *SampleRandom) IssueOptions() IssueOptions {
	return IssueOptions{ModelIDKey: sampleModelIDKey}
}

// Search has a fixed chance of finding one issue with a random value
func (s *SampleRandom) Search(ctx context.Context, mon *Context) ([]IssueRecord, error) {
	if s.roll(100) >= sampleIssueChance {
		return nil, nil
	}

	seq, err := s.nextSequence(ctx, mon)
	if err != nil {
		return nil, err
	}

	value := sampleSolvedBelow + s.roll(sampleValueCeiling-sampleSolvedBelow)
	return []IssueRecord{{
		sampleModelIDKey: strconv.FormatInt(seq, 10),
		sampleValueKey:   value,
	}}, nil
}

// Update re-rolls the value of every active issue
func (s *SampleRandom) Update(_ context.Context, _ *Context, issuesData []models.JSONMap) ([]IssueRecord, error) {
	records := make([]IssueRecord, 0, len(issuesData))
	for _, data := range issuesData {
		record := IssueRecord{}
		for k, v := range data {
			record[k] = v
		}
		record[sampleValueKey] = s.roll(sampleSolvedCeiling)
		records = append(records, record)
	}
	return records, nil
}

// IsSolved resolves issues whose value fell under the solved threshold
func (s *SampleRandom) IsSolved(data models.JSONMap) bool {
	value, ok := numberFromData(data[sampleValueKey])
	if !ok {
		return false
	}
	return value < sampleSolvedBelow
}

// AlertOptions escalate with the highest sampled value
func (s *SampleRandom) AlertOptions() AlertOptions {
	return AlertOptions{
		Rule: models.ValueRule{
			ValueKey:  sampleValueKey,
			Operation: models.OperationGreaterThan,
			Levels: models.PriorityLevels{
				Low:      models.Level(50),
				Moderate: models.Level(70),
				High:     models.Level(85),
				Critical: models.Level(95),
			},
		},
	}
}

// ReactionOptions log alert lifecycle events and fan out to any reaction
// sets attached at construction.
func (s *SampleRandom) ReactionOptions() ReactionOptions {
	logEvent := func(_ context.Context, payload *models.EventPayload) error {
		s.log.Info("sample reaction fired",
			"event", payload.EventName, "source", payload.EventSource, "sourceID", payload.EventSourceID)
		return nil
	}
	return MergeReactions(ReactionOptions{
		models.EventAlertCreated: {logEvent},
		models.EventAlertSolved:  {logEvent},
	}, s.notify)
}

// nextSequence increments the persisted issue sequence
func (s *SampleRandom) nextSequence(ctx context.Context, mon *Context) (int64, error) {
	current, err := mon.GetVariable(ctx, sampleSequenceKey)
	if err != nil {
		return 0, err
	}

	var seq int64
	if current != nil {
		seq, err = strconv.ParseInt(*current, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sample sequence corrupted: %w", err)
		}
	}

	seq++
	if err := mon.SetVariable(ctx, sampleSequenceKey, strconv.FormatInt(seq, 10)); err != nil {
		return 0, err
	}
	return seq, nil
}

// numberFromData coerces a JSON-decoded value into a float
func numberFromData(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
