package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Waveform is stored as a JSON array. A nil waveform is stored as NULL.
type Waveform []float64

// Value implements the driver.Valuer interface.
func (w Waveform) Value() (driver.Value, error) {
	if w == nil {
		return nil, nil
	}

	b, err := json.Marshal([]float64(w))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal waveform, %w", err)
	}

	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (w *Waveform) Scan(value any) error {
	if value == nil {
		*w = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("failed to scan Waveform, %v", value)
	}

	if len(b) == 0 {
		*w = nil
		return nil
	}

	return json.Unmarshal(b, (*[]float64)(w))
}
