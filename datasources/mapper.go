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

package datasources

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"

	"github.com/jerry-enebeli/labsync/model"
)

// Aliases the relational adapter selects each configured column expression as, in
// configuration order.
var rowFields = []string{
	"patient_id", "facility_code", "collected_on", "received_on", "processed_on",
	"result", "rejected", "rejection_reason", "reject_reason_other", "birthdate",
	"child_age", "sex", "mother_age", "health_worker", "health_worker_title",
	"verified", "care_clinic_no",
}

// SourceRow is one lab record before interpretation.
type SourceRow struct {
	PatientID         *string     `mapstructure:"patient_id"`
	FacilityCode      *string     `mapstructure:"facility_code"`
	CollectedOn       *model.Date `mapstructure:"collected_on"`
	ReceivedOn        *model.Date `mapstructure:"received_on"`
	ProcessedOn       *model.Date `mapstructure:"processed_on"`
	Result            *string     `mapstructure:"result"`
	Rejected          *string     `mapstructure:"rejected"`
	RejectionReason   *string     `mapstructure:"rejection_reason"`
	RejectReasonOther *string     `mapstructure:"reject_reason_other"`
	Birthdate         *model.Date `mapstructure:"birthdate"`
	ChildAge          *int        `mapstructure:"child_age"`
	Sex               *string     `mapstructure:"sex"`
	MotherAge         *int        `mapstructure:"mother_age"`
	HealthWorker      *string     `mapstructure:"health_worker"`
	HealthWorkerTitle *string     `mapstructure:"health_worker_title"`
	Verified          *int        `mapstructure:"verified"`
	CareClinicNo      *string     `mapstructure:"care_clinic_no"`
}

var dateType = reflect.TypeOf(model.Date{})

func bytesToStringHook(f reflect.Type, _ reflect.Type, data interface{}) (interface{}, error) {
	if b, ok := data.([]byte); ok && f.Kind() == reflect.Slice {
		return string(b), nil
	}
	return data, nil
}

func dateHook(_ reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != dateType {
		return data, nil
	}
	switch v := data.(type) {
	case time.Time:
		return model.NewDate(v), nil
	case string:
		return model.ParseDate(strings.TrimSpace(v))
	}
	return data, nil
}

var dateFields = []string{"collected_on", "received_on", "processed_on", "birthdate"}

// blankDates drops empty and zero dates so they decode as NULL.
func blankDates(raw map[string]interface{}) {
	for _, f := range dateFields {
		var text string
		switch v := raw[f].(type) {
		case string:
			text = v
		case []byte:
			text = string(v)
		default:
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "0000-00-00") {
			raw[f] = nil
		}
	}
}

// DecodeRow turns a column-name keyed row into a SourceRow. Driver values are decoded
// weakly: byte slices, numeric strings and datetimes all land in the right field.
func DecodeRow(raw map[string]interface{}) (SourceRow, error) {
	var row SourceRow
	blankDates(raw)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(bytesToStringHook, dateHook),
		WeaklyTypedInput: true,
		Result:           &row,
	})
	if err != nil {
		return row, err
	}
	err = decoder.Decode(raw)
	return row, err
}

const (
	detectedPositive = "+"
	detectedNegative = "-"
	detectedUnknown  = "?"
	detectedRejected = "rejected"
)

var rejectionReasons = map[int]string{
	1: "technical problems",
	2: "improper labelling",
	3: "insufficient blood",
	4: "layered/clotted",
	5: "improper packaging",
}

// ResultMapper interprets raw lab values. ResultMap keys are matched lower-cased and
// map to "+", "-", "?", "rejected" or "" for no result.
type ResultMapper struct {
	ResultMap map[string]string
}

func (m ResultMapper) detected(raw *string) string {
	if raw == nil {
		return ""
	}
	if v, ok := m.ResultMap[strings.ToLower(*raw)]; ok {
		return v
	}
	if v, ok := m.ResultMap[strings.ToLower(strings.TrimSpace(*raw))]; ok {
		return v
	}
	logrus.Warnf("unrecognized result value [%s]; treating as no result", *raw)
	return ""
}

func truthy(raw *string) bool {
	if raw == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(*raw)) {
	case "1", "true", "t", "yes", "y":
		return true
	}
	return false
}

func rejectionDetail(reason, other *string) string {
	if reason == nil {
		return "unknown"
	}
	text := strings.TrimSpace(*reason)
	code, err := strconv.Atoi(text)
	if err != nil {
		if text == "" {
			return "unknown"
		}
		return text
	}
	if detail, ok := rejectionReasons[code]; ok {
		return detail
	}
	if code == 9 {
		if other == nil {
			return "other: unspecified"
		}
		return "other: " + *other
	}
	return "unknown"
}

func sex(raw *string) *string {
	if raw == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(*raw)) {
	case "1", "m", "male":
		return ptr.String("m")
	case "2", "f", "female":
		return ptr.String("f")
	}
	return nil
}

func trimmed(raw *string) *string {
	if raw == nil {
		return nil
	}
	return ptr.String(strings.TrimSpace(*raw))
}

// Map builds the staged form of a lab record. A rejected sample that nonetheless has a
// positive or negative reading is inconsistent.
func (m ResultMapper) Map(sampleID string, row SourceRow) model.SampleRecord {
	detected := m.detected(row.Result)
	rejected := truthy(row.Rejected) || detected == detectedRejected

	var result *model.Result
	var detail *string
	if !rejected {
		switch detected {
		case detectedPositive:
			result = model.ResultPtr(model.ResultPositive)
		case detectedNegative:
			result = model.ResultPtr(model.ResultNegative)
		case detectedUnknown:
			result = model.ResultPtr(model.ResultIndeterminate)
		}
	} else if detected == detectedPositive || detected == detectedNegative {
		result = model.ResultPtr(model.ResultInconsistent)
		if detected == detectedPositive {
			detail = ptr.String("positive/rejected")
		} else {
			detail = ptr.String("negative/rejected")
		}
	} else {
		result = model.ResultPtr(model.ResultRejected)
		detail = ptr.String(rejectionDetail(row.RejectionReason, row.RejectReasonOther))
	}

	return model.SampleRecord{
		SampleID:          sampleID,
		PatientID:         trimmed(row.PatientID),
		FacilityCode:      trimmed(row.FacilityCode),
		CollectedOn:       row.CollectedOn,
		ReceivedOn:        row.ReceivedOn,
		ProcessedOn:       row.ProcessedOn,
		Result:            result,
		ResultDetail:      detail,
		Birthdate:         row.Birthdate,
		ChildAge:          row.ChildAge,
		Sex:               sex(row.Sex),
		MotherAge:         row.MotherAge,
		HealthWorker:      trimmed(row.HealthWorker),
		HealthWorkerTitle: trimmed(row.HealthWorkerTitle),
		Verified:          row.Verified,
		CareClinicNo:      trimmed(row.CareClinicNo),
	}
}
