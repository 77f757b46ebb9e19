// Package models contains domain models for clidesk.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// JSONStringArray is a []string stored as a JSON text column.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil || len(data) == 0 {
		*a = nil
		return err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("scan JSONStringArray: %w", err)
	}
	*a = out
	return nil
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner for SessionContext stored as JSON text.
func (c *SessionContext) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil || len(data) == 0 {
		*c = SessionContext{}
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("scan SessionContext: %w", err)
	}
	return nil
}

// Value implements driver.Valuer.
func (c SessionContext) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", value)
	}
}
