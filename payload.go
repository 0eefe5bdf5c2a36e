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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/dsnet/compress/bzip2"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/labsync/internal/logscan"
	"github.com/jerry-enebeli/labsync/internal/retry"
	"github.com/jerry-enebeli/labsync/model"
)

// pingInfo labels the empty payload sent when there is nothing to report.
const pingInfo = "."

// toJSON encodes v without HTML escaping and without the trailing newline.
func toJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func datumJSON(d model.Datum) ([]byte, error) {
	if d.Kind == model.DatumLog {
		return toJSON(d.Log)
	}
	return toJSON(d.Sample)
}

// unsyncedRecords reads the records waiting to be sent. If staging cannot be read even
// after retrying, the run goes on without records.
func (l *LabSync) unsyncedRecords(ctx context.Context) []model.SampleRecord {
	task := &retry.Func[[]model.SampleRecord]{
		Name: "read unsynced records",
		Do: func() ([]model.SampleRecord, error) {
			return l.datasource.GetUnsyncedSamples(ctx)
		},
		Success: func(attempt, _ int) {
			if attempt > 1 {
				logrus.Infof("successfully read records to sync on attempt %d", attempt)
			}
		},
		Exhausted: func(int) {
			logrus.Info("could not read records to sync; no records will be sent in this payload")
		},
	}
	_, records := retry.Run[[]model.SampleRecord](task, retry.Seconds(l.config.Retries.UnsyncedRecords...), l.retryOpts...)
	return records
}

// interlace orders the outgoing data: log entries first, newest first, then records in
// random order.
func interlace(records []model.WireSample, logs []model.LogEntry) []model.Datum {
	data := make([]model.Datum, 0, len(records)+len(logs))
	for _, entry := range logs {
		data = append(data, model.Datum{Kind: model.DatumLog, Log: entry})
	}

	rand.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	for _, rec := range records {
		data = append(data, model.Datum{Kind: model.DatumRecord, Sample: rec})
	}
	return data
}

// aggregate gathers everything that should go out in this run.
func (l *LabSync) aggregate(ctx context.Context) []model.Datum {
	records := l.unsyncedRecords(ctx)
	wire := make([]model.WireSample, len(records))
	for i, rec := range records {
		wire[i] = rec.Wire()
	}

	logs := l.logs.Unsynced()
	logrus.Info(logscan.CollectedMarker)

	logrus.Infof("%d sample records and %d log entries to send", len(wire), len(logs))
	return interlace(wire, logs)
}

// chunkLimit is the uncompressed byte budget of one payload.
func (l *LabSync) chunkLimit() float64 {
	limit := float64(l.config.Transport.ChunkBytes)
	if l.config.Transport.Compress {
		limit /= l.config.Transport.CompressionFactor
	}
	return limit
}

// chunk splits data into runs whose encoded size reaches limit. The last run may be
// smaller.
func chunk(data []model.Datum, limit float64) ([][]model.Datum, error) {
	var chunks [][]model.Datum
	var current []model.Datum
	size := 0
	for _, d := range data {
		encoded, err := datumJSON(d)
		if err != nil {
			return nil, err
		}
		current = append(current, d)
		size += len(encoded)

		if float64(size) >= limit {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildPayload serializes one chunk under the given sequence label.
func (l *LabSync) buildPayload(data []model.Datum, info string) (model.Payload, error) {
	body := model.PayloadBody{
		Source:  l.config.SourceTag,
		Version: l.config.Version,
		Now:     model.Timestamp(l.now()),
		Info:    info,
		Samples: []model.WireSample{},
		Logs:    []model.LogEntry{},
	}
	ids := []string{}
	for _, d := range data {
		switch d.Kind {
		case model.DatumRecord:
			body.Samples = append(body.Samples, d.Sample)
			ids = append(ids, d.Sample.ID)
		case model.DatumLog:
			body.Logs = append(body.Logs, d.Log)
		}
	}

	encoded, err := toJSON(body)
	if err != nil {
		return model.Payload{}, err
	}
	if l.config.Transport.Compress {
		encoded, err = compress(encoded)
		if err != nil {
			return model.Payload{}, err
		}
	}
	return model.Payload{Info: info, Body: encoded, RecordIDs: ids, Compressed: l.config.Transport.Compress}, nil
}

// BuildPayloads drains staging and the log into size-bounded payloads. With nothing
// to send it returns a single ping payload.
func (l *LabSync) BuildPayloads(ctx context.Context) ([]model.Payload, error) {
	chunks, err := chunk(l.aggregate(ctx), l.chunkLimit())
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		ping, err := l.buildPayload(nil, pingInfo)
		if err != nil {
			return nil, err
		}
		logrus.Info("no data to send; sending ping message only")
		return []model.Payload{ping}, nil
	}

	payloads := make([]model.Payload, 0, len(chunks))
	total := 0
	for i, c := range chunks {
		p, err := l.buildPayload(c, fmt.Sprintf("%d/%d", i+1, len(chunks)))
		if err != nil {
			return nil, err
		}
		total += len(p.Body)
		payloads = append(payloads, p)
	}

	compressed := ""
	if l.config.Transport.Compress {
		compressed = ", compressed"
	}
	logrus.Infof("%d payloads to send (%d bytes%s)", len(payloads), total, compressed)
	return payloads, nil
}
