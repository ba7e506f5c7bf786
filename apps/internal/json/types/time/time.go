// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package time provides for custom types to translate time from JSON and other formats
// into time.Time objects.
package time

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unix provides a type that can marshal and unmarshal a string representation
// of the unix epoch into a time.Time object. The zero value marshals to null.
type Unix struct {
	T time.Time
}

// NewUnix returns t truncated to whole seconds, which is the precision stored in the cache.
func NewUnix(t time.Time) Unix {
	if t.IsZero() {
		return Unix{}
	}
	return Unix{T: time.Unix(t.Unix(), 0)}
}

// MarshalJSON implements encoding/json.MarshalJSON().
func (u Unix) MarshalJSON() ([]byte, error) {
	if u.T.IsZero() {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%q", strconv.FormatInt(u.T.Unix(), 10))), nil
}

// UnmarshalJSON implements encoding/json.UnmarshalJSON().
func (u *Unix) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		u.T = time.Time{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		u.T = time.Time{}
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("unix time(%s) could not be converted from string to int: %w", string(b), err)
	}
	u.T = time.Unix(i, 0)
	return nil
}

// String returns the epoch seconds, or "" for the zero value.
func (u Unix) String() string {
	if u.T.IsZero() {
		return ""
	}
	return strconv.FormatInt(u.T.Unix(), 10)
}

// IsExpired reports whether u is set and not after now.
func (u Unix) IsExpired(now time.Time) bool {
	return !u.T.IsZero() && !u.T.After(now)
}

// DurationTime provides a type that can unmarshal a duration from now, such as the
// "expires_in" member of a token response, into a time.Time object.
type DurationTime struct {
	T time.Time
}

// MarshalJSON implements encoding/json.MarshalJSON().
func (d DurationTime) MarshalJSON() ([]byte, error) {
	if d.T.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(int64(time.Until(d.T)/time.Second), 10)), nil
}

// UnmarshalJSON implements encoding/json.UnmarshalJSON(). Both numbers and
// strings holding a number of seconds are accepted.
func (d *DurationTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.T = time.Time{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		d.T = time.Time{}
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration(%s) could not be converted from string to int: %w", string(b), err)
	}
	d.T = time.Now().Add(time.Duration(i) * time.Second)
	return nil
}
