/*
Copyright 2024 Blnk Finance Authors.

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

import "sort"

// IDSet is a set of sample ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Minus returns the ids of s not in o.
func (s IDSet) Minus(o IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if !o.Has(id) {
			out.Add(id)
		}
	}
	return out
}

func (s IDSet) Union(others ...IDSet) IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out.Add(id)
	}
	for _, o := range others {
		for id := range o {
			out.Add(id)
		}
	}
	return out
}

func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResultClass groups staged records by how settled their result is.
type ResultClass string

const (
	// ClassResolved records carry a definitive result; anchored on resolved_on.
	ClassResolved ResultClass = "resolved"
	// ClassUnresolved records await a retest; anchored on resolved_on.
	ClassUnresolved ResultClass = "unresolved"
	// ClassUntested records have no result yet; anchored on imported_on.
	ClassUntested ResultClass = "untested"
)

// Window selects non-historical staged records of one class whose anchor date is on or
// after Since.
type Window struct {
	Class ResultClass
	Since Date
}

// Changeset is everything one reconciliation writes to staging.
type Changeset struct {
	Deleted  []string
	Inserted []SampleRecord
	Replaced []SampleRecord
}

func (c Changeset) Empty() bool {
	return len(c.Deleted) == 0 && len(c.Inserted) == 0 && len(c.Replaced) == 0
}
