package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DatasetStats is the server-computed summary for one dataset.
type DatasetStats struct {
	TotalCount         int              `json:"total_count" yaml:"total_count"`
	AverageFlowrate    float64          `json:"average_flowrate" yaml:"average_flowrate"`
	AveragePressure    float64          `json:"average_pressure" yaml:"average_pressure"`
	AverageTemperature float64          `json:"average_temperature" yaml:"average_temperature"`
	TypeDistribution   TypeDistribution `json:"type_distribution" yaml:"type_distribution"`
}

// TypeCount is one equipment type and the number of records of that type.
type TypeCount struct {
	Type  string `json:"type" yaml:"type"`
	Count int    `json:"count" yaml:"count"`
}

// TypeDistribution maps equipment type to count while keeping the key order
// of the JSON object it was decoded from.
type TypeDistribution []TypeCount

// UnmarshalJSON decodes a JSON object, preserving member order.
func (d *TypeDistribution) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("type_distribution: expected object, got %v", tok)
	}

	out := make(TypeDistribution, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("type_distribution: expected string key, got %v", keyTok)
		}
		var count int
		if err := dec.Decode(&count); err != nil {
			return fmt.Errorf("type_distribution[%s]: %w", key, err)
		}
		out = append(out, TypeCount{Type: key, Count: count})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*d = out
	return nil
}

// MarshalJSON encodes the distribution as a JSON object in its stored order.
func (d TypeDistribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tc := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(tc.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", tc.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the count for an equipment type.
func (d TypeDistribution) Get(equipmentType string) (int, bool) {
	for _, tc := range d {
		if tc.Type == equipmentType {
			return tc.Count, true
		}
	}
	return 0, false
}
