package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Citation is the (source, page) grounding of an answer. The zero value is
// the empty sentinel and encodes as {"source": "", "page": ""}.
type Citation struct {
	Source string
	Page   int
}

func (c Citation) IsEmpty() bool {
	return c.Source == ""
}

func (c Citation) MarshalJSON() ([]byte, error) {
	if c.IsEmpty() {
		return []byte(`{"source":"","page":""}`), nil
	}
	return json.Marshal(struct {
		Source string `json:"source"`
		Page   int    `json:"page"`
	}{c.Source, c.Page})
}

// UnmarshalJSON accepts the page as a number, a numeric string or "".
func (c *Citation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Source string          `json:"source"`
		Page   json.RawMessage `json:"page"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	page, err := parsePage(raw.Page)
	if err != nil {
		return err
	}
	c.Source = strings.TrimSpace(raw.Source)
	c.Page = page
	if c.Source == "" {
		c.Page = 0
	}
	return nil
}

func parsePage(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid page value %s", raw)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid page value %q", s)
	}
	return int(n), nil
}
