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

type Result string

const (
	ResultPositive      Result = "positive"
	ResultNegative      Result = "negative"
	ResultRejected      Result = "rejected"
	ResultIndeterminate Result = "indeterminate"
	ResultInconsistent  Result = "inconsistent"
)

// IsDefinitive reports whether the result closes the testing cycle.
func (r Result) IsDefinitive() bool {
	return r == ResultPositive || r == ResultNegative || r == ResultRejected
}

// IsUnresolved reports whether the result is expected to be followed up by a retest.
func (r Result) IsUnresolved() bool {
	return r == ResultIndeterminate || r == ResultInconsistent
}

type SyncStatus string

const (
	SyncStatusNew        SyncStatus = "new"
	SyncStatusUpdate     SyncStatus = "update"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusHistorical SyncStatus = "historical"
)

// Pending reports whether the record has content the reporting endpoint has not acknowledged.
func (s SyncStatus) Pending() bool {
	return s == SyncStatusNew || s == SyncStatusUpdate
}

// SampleRecord is one test request as mirrored in the staging store.
type SampleRecord struct {
	SampleID          string     `json:"sample_id"`
	ImportedOn        *Date      `json:"imported_on"`
	ResolvedOn        *Date      `json:"resolved_on"`
	PatientID         *string    `json:"patient_id"`
	FacilityCode      *string    `json:"facility_code"`
	CollectedOn       *Date      `json:"collected_on"`
	ReceivedOn        *Date      `json:"received_on"`
	ProcessedOn       *Date      `json:"processed_on"`
	Result            *Result    `json:"result"`
	ResultDetail      *string    `json:"result_detail"`
	Birthdate         *Date      `json:"birthdate"`
	ChildAge          *int       `json:"child_age"`
	Sex               *string    `json:"sex"`
	MotherAge         *int       `json:"mother_age"`
	HealthWorker      *string    `json:"health_worker"`
	HealthWorkerTitle *string    `json:"health_worker_title"`
	Verified          *int       `json:"verified"`
	CareClinicNo      *string    `json:"care_clinic_no"`
	SyncStatus        SyncStatus `json:"sync_status"`
}

// HasResult reports whether any result, definitive or not, has been recorded.
func (s SampleRecord) HasResult() bool {
	return s.Result != nil
}

// ShouldResetResolved decides whether a change of result restarts the resolved_on counter.
// A first result always does; otherwise only a move from an unresolved result to a
// definitive one does.
func ShouldResetResolved(prev, next *Result) bool {
	if prev == nil {
		return true
	}
	return prev.IsUnresolved() && next != nil && next.IsDefinitive()
}

// Diff returns the sorted names of the source-owned fields that differ between the two
// records. Staging bookkeeping (imported_on, resolved_on, sync_status) is not compared.
func (s SampleRecord) Diff(o SampleRecord) []string {
	var changed []string
	check := func(name string, equal bool) {
		if !equal {
			changed = append(changed, name)
		}
	}

	check("patient_id", equalStrings(s.PatientID, o.PatientID))
	check("facility_code", equalStrings(s.FacilityCode, o.FacilityCode))
	check("collected_on", equalDates(s.CollectedOn, o.CollectedOn))
	check("received_on", equalDates(s.ReceivedOn, o.ReceivedOn))
	check("processed_on", equalDates(s.ProcessedOn, o.ProcessedOn))
	check("result", equalResults(s.Result, o.Result))
	check("result_detail", equalStrings(s.ResultDetail, o.ResultDetail))
	check("birthdate", equalDates(s.Birthdate, o.Birthdate))
	check("child_age", equalInts(s.ChildAge, o.ChildAge))
	check("sex", equalStrings(s.Sex, o.Sex))
	check("mother_age", equalInts(s.MotherAge, o.MotherAge))
	check("health_worker", equalStrings(s.HealthWorker, o.HealthWorker))
	check("health_worker_title", equalStrings(s.HealthWorkerTitle, o.HealthWorkerTitle))
	check("verified", equalInts(s.Verified, o.Verified))
	check("care_clinic_no", equalStrings(s.CareClinicNo, o.CareClinicNo))

	sort.Strings(changed)
	return changed
}

// WireSample is the condensed form of a record sent to the reporting endpoint.
type WireSample struct {
	ID                string     `json:"id"`
	PatientID         *string    `json:"pat_id"`
	FacilityCode      *string    `json:"fac"`
	CollectedOn       *Date      `json:"coll_on"`
	ReceivedOn        *Date      `json:"recv_on"`
	ProcessedOn       *Date      `json:"proc_on"`
	Result            *Result    `json:"result"`
	ResultDetail      *string    `json:"result_detail"`
	Birthdate         *Date      `json:"dob"`
	ChildAge          *int       `json:"child_age"`
	Sex               *string    `json:"sex"`
	MotherAge         *int       `json:"mother_age"`
	HealthWorker      *string    `json:"hw"`
	HealthWorkerTitle *string    `json:"hw_tit"`
	Verified          *int       `json:"verified"`
	CareClinicNo      *string    `json:"care_clinic_no"`
	SyncStatus        SyncStatus `json:"sync"`
}

// Wire strips the staging-only dates and shortens field names for transmission.
func (s SampleRecord) Wire() WireSample {
	return WireSample{
		ID:                s.SampleID,
		PatientID:         s.PatientID,
		FacilityCode:      s.FacilityCode,
		CollectedOn:       s.CollectedOn,
		ReceivedOn:        s.ReceivedOn,
		ProcessedOn:       s.ProcessedOn,
		Result:            s.Result,
		ResultDetail:      s.ResultDetail,
		Birthdate:         s.Birthdate,
		ChildAge:          s.ChildAge,
		Sex:               s.Sex,
		MotherAge:         s.MotherAge,
		HealthWorker:      s.HealthWorker,
		HealthWorkerTitle: s.HealthWorkerTitle,
		Verified:          s.Verified,
		CareClinicNo:      s.CareClinicNo,
		SyncStatus:        s.SyncStatus,
	}
}

// SyncStats summarises the staging store by sync status.
type SyncStats struct {
	ByStatus map[SyncStatus]int `json:"by_status"`
	Total    int                `json:"total"`
}

func ResultPtr(r Result) *Result {
	return &r
}

func equalStrings(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalInts(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalResults(a, b *Result) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
