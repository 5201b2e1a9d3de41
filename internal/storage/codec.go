package storage

import (
	"encoding/json"
	"errors"

	"asterion/internal/population"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRun(r RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (RunRecord, error) {
	var run RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return RunRecord{}, err
	}
	return run, nil
}

func EncodeDiagnostics(d []population.Diagnostics) ([]byte, error) {
	return json.Marshal(d)
}

func DecodeDiagnostics(data []byte) ([]population.Diagnostics, error) {
	var out []population.Diagnostics
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func EncodeInstanceResults(rows []population.ReportRow) ([]byte, error) {
	return json.Marshal(rows)
}

func DecodeInstanceResults(data []byte) ([]population.ReportRow, error) {
	var out []population.ReportRow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkVersion(v VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
