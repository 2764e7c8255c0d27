package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type TocSection struct {
	Id    string `json:"id"`
	Title string `json:"title"`
	Level int    `json:"level"`
}

// IsTransmittal recognizes the transmittal appendix slot by id or title.
// Matching is intentionally loose: outlines come from user approval and may
// carry either the well-known id or a free-form title.
func (s TocSection) IsTransmittal() bool {
	if strings.EqualFold(strings.TrimSpace(s.Id), TransmittalSectionId) {
		return true
	}
	return strings.Contains(strings.ToLower(s.Title), "transmittal")
}

const TransmittalSectionId = "transmittal"

// TableOfContents is stored as a JSON value on the reports row, not
// normalized into separate rows. Version bumps on every approval.
type TableOfContents struct {
	Version  int          `json:"version"`
	Sections []TocSection `json:"sections"`
}

func (t TableOfContents) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *TableOfContents) Scan(value interface{}) error {
	if value == nil {
		*t = TableOfContents{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("cannot scan %T into TableOfContents", value)
	}
}

func (t TableOfContents) GormDataType() string {
	return "longtext"
}

// StringList is a JSON-encoded []string column (source chunk ids).
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		l = StringList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("cannot scan value into StringList")
	}
}

func (l StringList) GormDataType() string {
	return "longtext"
}

// RelevanceMap is a JSON-encoded chunkId => relevance column.
type RelevanceMap map[string]float64

func (m RelevanceMap) Value() (driver.Value, error) {
	if m == nil {
		m = RelevanceMap{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *RelevanceMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("cannot scan value into RelevanceMap")
	}
}

func (m RelevanceMap) GormDataType() string {
	return "longtext"
}
