package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"flightguard/internal/model"
	"flightguard/internal/normalize"
)

// stateSnapshot is the OpenSky /states/all response shape.
type stateSnapshot struct {
	Time   *int64  `json:"time"`
	States [][]any `json:"states"`
}

type recordBatch struct {
	ID      string                  `json:"id"`
	Records []model.TelemetryRecord `json:"records"`
}

// ParseBatch accepts an OpenSky state snapshot, a {"id","records"} batch,
// a bare array of records or a single record. Batches without an id get
// one derived from the payload hash.
func ParseBatch(data []byte, source string) (model.Batch, error) {
	records, id, err := ParseRecords(data, source)
	if err != nil {
		return model.Batch{}, err
	}
	if id == "" {
		id = "batch-" + hashPayload(data)[:16]
	}
	return model.Batch{ID: id, Records: records}, nil
}

// ParseRecords decodes the records of a payload and the batch id it carries, if any.
func ParseRecords(data []byte, source string) ([]model.TelemetryRecord, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, "", errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var recs []model.TelemetryRecord
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, "", fmt.Errorf("decode record array: %w", err)
		}
		return tagSource(recs, source), "", nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	switch {
	case probe["states"] != nil:
		var snap stateSnapshot
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&snap); err != nil {
			return nil, "", fmt.Errorf("decode state snapshot: %w", err)
		}
		recs := make([]model.TelemetryRecord, 0, len(snap.States))
		for i, sv := range snap.States {
			rec, err := normalize.FromStateVector(sv, source)
			if err != nil {
				return nil, "", fmt.Errorf("state %d: %w", i, err)
			}
			recs = append(recs, rec)
		}
		id := ""
		if snap.Time != nil {
			id = fmt.Sprintf("%s-%d", sourceOr(source, "states"), *snap.Time)
		}
		return recs, id, nil
	case probe["records"] != nil:
		var b recordBatch
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, "", fmt.Errorf("decode batch: %w", err)
		}
		return tagSource(b.Records, source), b.ID, nil
	default:
		var rec model.TelemetryRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, "", fmt.Errorf("decode record: %w", err)
		}
		return tagSource([]model.TelemetryRecord{rec}, source), "", nil
	}
}

func tagSource(recs []model.TelemetryRecord, source string) []model.TelemetryRecord {
	if source == "" {
		return recs
	}
	for i := range recs {
		if recs[i].Source == "" {
			recs[i].Source = source
		}
	}
	return recs
}

func sourceOr(source, def string) string {
	if source == "" {
		return def
	}
	return source
}
