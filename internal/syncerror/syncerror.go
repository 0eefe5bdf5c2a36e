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

package syncerror

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	// SourceRead failures leave staging untouched and are safe to retry wholesale.
	SourceRead Kind = "SOURCE_READ"
	// StagingWrite failures roll back the surrounding transaction.
	StagingWrite Kind = "STAGING_WRITE"
	// StagingRead failures happen before any write and leave staging as it was.
	StagingRead Kind = "STAGING_READ"
	// Transport covers network, HTTP, auth and non-success responses.
	Transport Kind = "TRANSPORT"
	// SyncFlagUpdate never undoes a successful send.
	SyncFlagUpdate Kind = "SYNC_FLAG_UPDATE"
	ClockAnomaly   Kind = "CLOCK_ANOMALY"
	LockStaleness  Kind = "LOCK_STALENESS"
)

type SyncError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *SyncError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string, cause error) *SyncError {
	return &SyncError{Kind: kind, Message: message, Cause: cause}
}

// Wrap attaches a stack trace to cause before classifying it.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *SyncError {
	return &SyncError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: errors.WithStack(cause)}
}

// Is reports whether any error in err's chain is a SyncError of the given kind.
func Is(err error, kind Kind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first SyncError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
