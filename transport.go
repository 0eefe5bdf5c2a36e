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

package labsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/labsync/internal/metrics"
	"github.com/jerry-enebeli/labsync/internal/request"
	"github.com/jerry-enebeli/labsync/internal/retry"
	"github.com/jerry-enebeli/labsync/internal/syncerror"
	"github.com/jerry-enebeli/labsync/model"
)

// SuccessToken is the exact response body the reporting endpoint answers with when it
// accepted a payload.
const SuccessToken = "SUCCESS"

const truncLimit = 300

// trunc bounds an error message that may carry an arbitrary http response.
func trunc(text string) string {
	if len(text) < truncLimit {
		return text
	}
	return text[:truncLimit-10] + "...truncated"
}

// post delivers one payload. Anything but a 200 answered with SuccessToken is an error.
func (l *LabSync) post(ctx context.Context, p model.Payload) error {
	ctx, span := otel.Tracer("labsync.transport").Start(ctx, "Posting payload")
	defer span.End()
	span.SetAttributes(attribute.String("payload.info", p.Info), attribute.Int("payload.bytes", len(p.Body)))

	headers := map[string]string{"Content-Type": "text/json"}
	if p.Compressed {
		headers["Content-Transfer-Encoding"] = "bzip2"
	}

	transport := l.config.Transport
	code, body, err := request.PostRaw(ctx, transport.SubmitURL, p.Body, request.PostOptions{
		Username: transport.User,
		Password: transport.Password,
		Headers:  headers,
		Timeout:  transport.Timeout(),
	})
	if err != nil {
		span.RecordError(err)
		return syncerror.New(syncerror.Transport, err.Error(), err)
	}
	span.SetAttributes(attribute.Int("http.status_code", code))

	if code < 200 || code > 299 {
		return syncerror.New(syncerror.Transport, fmt.Sprintf("http response> %d", code), nil)
	}
	if code != 200 || string(body) != SuccessToken {
		return syncerror.New(syncerror.Transport, fmt.Sprintf("http response> %d: %s", code, body), nil)
	}
	return nil
}

// updateSyncFlag marks the records of a delivered payload synced. Failure only means
// the records go out again next run.
func (l *LabSync) updateSyncFlag(ctx context.Context, p model.Payload) {
	task := &retry.Func[struct{}]{
		Name: "update sync flag",
		Do: func() (struct{}, error) {
			return struct{}{}, l.datasource.MarkSynced(ctx, p.RecordIDs)
		},
		Success: func(attempt, _ int) {
			if attempt > 1 {
				logrus.Infof("successfully updated sync flag on attempt %d", attempt)
			}
		},
		Exhausted: func(int) {
			logrus.Warn("successfully sent records, but failed to update sync flag; records will be resent in next batch")
		},
	}
	if ok, _ := retry.Run[struct{}](task, retry.Seconds(l.config.Retries.SyncFlag...), l.retryOpts...); ok {
		metrics.RecordsSynced.Add(float64(len(p.RecordIDs)))
	}
}

// sendPayload posts one payload and, when it got through, flags its records.
func (l *LabSync) sendPayload(ctx context.Context, p model.Payload) bool {
	if err := l.post(ctx, p); err != nil {
		metrics.PayloadsFailed.Inc()
		msg := err.Error()
		var se *syncerror.SyncError
		if errors.As(err, &se) {
			msg = se.Message
		}
		logrus.Warn("failed send attempt: " + trunc(msg))
		return false
	}

	metrics.PayloadsSent.Inc()
	metrics.BytesSent.Add(float64(len(p.Body)))
	l.updateSyncFlag(ctx, p)
	return true
}

// sendAllTask sends payloads in order. A retry resumes at the first payload that has
// not gone through.
type sendAllTask struct {
	ctx      context.Context
	labs     *LabSync
	payloads []model.Payload
	sent     int
}

func (t *sendAllTask) Attempt() bool {
	for t.sent < len(t.payloads) {
		if !t.labs.sendPayload(t.ctx, t.payloads[t.sent]) {
			return false
		}
		t.sent++
		logrus.Debugf("sent payload %d of %d", t.sent, len(t.payloads))
	}
	return true
}

func (t *sendAllTask) OnSuccess(int, int) {
	logrus.Info("sync successful")
}

func (t *sendAllTask) OnExhausted(int) {
	logrus.Warnf("too many failed send attempts; aborting send; %d of %d payloads successfully transmitted", t.sent, len(t.payloads))
}

func (t *sendAllTask) OnRetry(attempt, maxAttempts int, wait time.Duration) {
	logrus.Warnf("failed send on payload %d of %d; %d tries left; resuming in %d seconds",
		t.sent+1, len(t.payloads), maxAttempts-attempt, int(wait.Seconds()))
}

func (t *sendAllTask) Result(bool) int {
	return t.sent
}

// SendAll transmits every payload, retrying on the send schedule, and reports whether
// all of them were delivered. When the host has no permanent link the send is wrapped
// in a dial-up and hang-up.
func (l *LabSync) SendAll(ctx context.Context, payloads []model.Payload) bool {
	if !l.config.Transport.AlwaysOn() {
		l.dialer.Connect(ctx)
		defer l.dialer.Disconnect(ctx)
	}

	start := time.Now()
	defer func() {
		metrics.SendDuration.Observe(time.Since(start).Seconds())
	}()

	task := &sendAllTask{ctx: ctx, labs: l, payloads: payloads}
	ok, _ := retry.Run[int](task, retry.Seconds(l.config.Retries.Send...), l.retryOpts...)
	return ok
}

// SendData builds this run's payloads and sends them.
func (l *LabSync) SendData(ctx context.Context) (bool, error) {
	payloads, err := l.BuildPayloads(ctx)
	if err != nil {
		return false, err
	}
	return l.SendAll(ctx, payloads), nil
}
