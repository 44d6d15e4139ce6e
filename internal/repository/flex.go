package repository

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var jsonNull = []byte("null")

// flexInt принимает целое число, дробное число или числовую строку.
// Valid == false, если поле отсутствует, равно null или не разбирается.
type flexInt struct {
	Value int64
	Valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var v flexFloat
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if !v.Valid {
		*f = flexInt{}
		return nil
	}
	*f = flexInt{Value: int64(math.Round(v.Value)), Valid: true}
	return nil
}

// NonNegative возвращает значение, приведённое к неотрицательному, или 0 для отсутствующего.
func (f flexInt) NonNegative() int {
	if !f.Valid || f.Value < 0 {
		return 0
	}
	return int(f.Value)
}

// Optional возвращает указатель на неотрицательное значение или nil.
func (f flexInt) Optional() *int {
	if !f.Valid || f.Value < 0 {
		return nil
	}
	v := int(f.Value)
	return &v
}

// flexFloat принимает число или числовую строку.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		*f = flexFloat{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = flexFloat{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = flexFloat{}
			return nil
		}
		*f = flexFloat{Value: v, Valid: true}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

// NonNegative возвращает значение, приведённое к неотрицательному, или 0 для отсутствующего.
func (f flexFloat) NonNegative() float64 {
	if !f.Valid || f.Value < 0 || math.IsNaN(f.Value) {
		return 0
	}
	return f.Value
}

// flexTime принимает строку RFC3339, миллисекунды Unix или объект {seconds, nanoseconds}.
type flexTime struct {
	Value time.Time
	Valid bool
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		*f = flexTime{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			*f = flexTime{}
			return nil
		}
		*f = flexTime{Value: t, Valid: true}
	case '{':
		var ts struct {
			Seconds     int64 `json:"seconds"`
			Nanoseconds int64 `json:"nanoseconds"`
		}
		if err := json.Unmarshal(data, &ts); err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
		*f = flexTime{Value: time.Unix(ts.Seconds, ts.Nanoseconds).UTC(), Valid: true}
	default:
		var ms float64
		if err := json.Unmarshal(data, &ms); err != nil {
			*f = flexTime{}
			return nil
		}
		*f = flexTime{Value: time.UnixMilli(int64(ms)).UTC(), Valid: true}
	}
	return nil
}

// Optional возвращает указатель на время или nil.
func (f flexTime) Optional() *time.Time {
	if !f.Valid {
		return nil
	}
	t := f.Value
	return &t
}

// flexIDs принимает массив строк или массив объектов с полем id.
type flexIDs []string

func (f *flexIDs) UnmarshalJSON(data []byte) error {
	var plain []string
	if err := json.Unmarshal(data, &plain); err == nil {
		*f = plain
		return nil
	}

	var objects []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &objects); err == nil {
		ids := make([]string, 0, len(objects))
		for _, o := range objects {
			ids = append(ids, o.ID)
		}
		*f = ids
		return nil
	}

	*f = nil
	return nil
}
