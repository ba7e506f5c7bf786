// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package time

import (
	"encoding/json"
	"testing"
	"time"
)

func TestUnix(t *testing.T) {
	now := NewUnix(time.Now())

	b, err := json.Marshal(now)
	if err != nil {
		t.Fatalf("TestUnix: Marshal: %s", err)
	}
	got := Unix{}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("TestUnix: Unmarshal: %s", err)
	}
	if !got.T.Equal(now.T) {
		t.Errorf("TestUnix: got %v, want %v", got.T, now.T)
	}

	b, err = json.Marshal(Unix{})
	if err != nil || string(b) != "null" {
		t.Errorf("TestUnix(zero): got %s/%v, want null", b, err)
	}

	for _, in := range []string{`null`, `""`} {
		got := Unix{T: time.Now()}
		if err := json.Unmarshal([]byte(in), &got); err != nil || !got.T.IsZero() {
			t.Errorf("TestUnix(%s): got %v/%v, want zero", in, got.T, err)
		}
	}

	if err := json.Unmarshal([]byte(`"soon"`), &got); err == nil {
		t.Error("TestUnix(bad): got err == nil, want err != nil")
	}
}

func TestUnixIsExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		desc string
		u    Unix
		want bool
	}{
		{"zero never expires", Unix{}, false},
		{"past", Unix{T: now.Add(-time.Minute)}, true},
		{"future", Unix{T: now.Add(time.Minute)}, false},
	}
	for _, test := range tests {
		if got := test.u.IsExpired(now); got != test.want {
			t.Errorf("TestUnixIsExpired(%s): got %v, want %v", test.desc, got, test.want)
		}
	}
}

func TestDurationTime(t *testing.T) {
	for _, in := range []string{`3600`, `"3600"`} {
		d := DurationTime{}
		if err := json.Unmarshal([]byte(in), &d); err != nil {
			t.Fatalf("TestDurationTime(%s): %s", in, err)
		}
		if until := time.Until(d.T); until < 59*time.Minute || until > time.Hour {
			t.Errorf("TestDurationTime(%s): got %v from now, want ~1h", in, until)
		}
	}
}
