package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Identifier is an optional email or phone value. The zero value is absent.
// An empty string is never a present value.
type Identifier struct {
	value string
	valid bool
}

// NewIdentifier returns a present identifier for a non-empty s and an absent one otherwise.
func NewIdentifier(s string) Identifier {
	if s == "" {
		return Identifier{}
	}
	return Identifier{value: s, valid: true}
}

// Absent returns the absent identifier.
func Absent() Identifier {
	return Identifier{}
}

// Get returns the value and whether it is present.
func (i Identifier) Get() (string, bool) {
	return i.value, i.valid
}

// Present reports whether the identifier carries a value.
func (i Identifier) Present() bool {
	return i.valid
}

// String returns the value, or "" when absent.
func (i Identifier) String() string {
	return i.value
}

// Matches reports whether both identifiers are present and equal.
func (i Identifier) Matches(other Identifier) bool {
	return i.valid && other.valid && i.value == other.value
}

func (i Identifier) MarshalJSON() ([]byte, error) {
	if !i.valid {
		return []byte("null"), nil
	}
	return json.Marshal(i.value)
}

func (i *Identifier) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*i = Identifier{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("identifier must be a string or null: %w", err)
	}
	*i = NewIdentifier(s)
	return nil
}

// Value implements driver.Valuer so absent identifiers persist as NULL.
func (i Identifier) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil
	}
	return i.value, nil
}

// Scan implements sql.Scanner.
func (i *Identifier) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Identifier{}
	case string:
		*i = NewIdentifier(v)
	case []byte:
		*i = NewIdentifier(string(v))
	default:
		return fmt.Errorf("cannot scan %T into Identifier", src)
	}
	return nil
}
