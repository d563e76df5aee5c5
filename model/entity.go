/*
Copyright 2025 Silo Authors.

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

package model

import "time"

// Entity kinds as used in dedup marker keys (silo:<kind>:<external-id>).
const (
	KindIssue  = "issue"
	KindLabel  = "label"
	KindModule = "module"
	KindCycle  = "cycle"
)

// Issue is a destination-shaped work item. ExternalID/ExternalSource tie it
// back to the source record and make creation idempotent.
type Issue struct {
	ID             string     `json:"id,omitempty"`
	ExternalID     string     `json:"external_id"`
	ExternalSource Source     `json:"external_source"`
	Name           string     `json:"name"`
	Description    string     `json:"description_html,omitempty"`
	State          string     `json:"state,omitempty"`
	Priority       string     `json:"priority,omitempty"`
	Assignees      []string   `json:"assignees,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Label is a destination label, matched by name within a project.
type Label struct {
	ID             string `json:"id,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	ExternalSource Source `json:"external_source,omitempty"`
	Name           string `json:"name"`
	Color          string `json:"color,omitempty"`
}

// Module groups issues (e.g. a GitHub milestone). IssueExternalIDs reference
// member issues by their source ids; linkage to destination ids happens in
// the push layer.
type Module struct {
	ID               string   `json:"id,omitempty"`
	ExternalID       string   `json:"external_id"`
	ExternalSource   Source   `json:"external_source"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	IssueExternalIDs []string `json:"issue_external_ids,omitempty"`
}

// Cycle is a time-boxed iteration (e.g. a Jira sprint).
type Cycle struct {
	ID               string     `json:"id,omitempty"`
	ExternalID       string     `json:"external_id"`
	ExternalSource   Source     `json:"external_source"`
	Name             string     `json:"name"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	IssueExternalIDs []string   `json:"issue_external_ids,omitempty"`
}

// EntitySet is the transformed output of one batch, grouped per entity kind
// in the order the push layer writes them.
type EntitySet struct {
	Labels  []Label  `json:"labels,omitempty"`
	Issues  []Issue  `json:"issues,omitempty"`
	Modules []Module `json:"modules,omitempty"`
	Cycles  []Cycle  `json:"cycles,omitempty"`
}

// IsEmpty reports whether the set contributes nothing to the destination.
func (s *EntitySet) IsEmpty() bool {
	return len(s.Labels) == 0 && len(s.Issues) == 0 && len(s.Modules) == 0 && len(s.Cycles) == 0
}
