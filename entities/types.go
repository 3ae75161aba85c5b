package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// QualitySettings is stored as jsonb. Only Bitrate is read by the engine,
// as the target when scoring connection quality.
type QualitySettings struct {
	Resolution   string `json:"resolution,omitempty"`
	Bitrate      int    `json:"bitrate,omitempty"`
	Framerate    int    `json:"framerate,omitempty"`
	AudioBitrate int    `json:"audioBitrate,omitempty"`
}

func (q QualitySettings) Value() (driver.Value, error) {
	b, err := json.Marshal(q)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (q *QualitySettings) Scan(value interface{}) error {
	return scanJSON(value, q)
}

type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value interface{}) error {
	return scanJSON(value, m)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}
