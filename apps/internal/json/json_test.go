// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package json

import (
	"reflect"
	"sort"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

type Base struct {
	HomeAccountID string `json:"home_account_id,omitempty"`
	Environment   string `json:"environment,omitempty"`
}

type StructA struct {
	Base
	Name             string `json:"name,omitempty"`
	ID               int    `json:"id"`
	Ptr              *string
	AdditionalFields map[string]interface{} `json:"-"`
}

type noExtras struct {
	Name string `json:"name"`
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		desc string
		b    []byte
		got  interface{}
		want interface{}
		err  bool
	}{
		{
			desc: "receiver not a pointer",
			got:  StructA{},
			b:    []byte(`{"content": "value"}`),
			err:  true,
		},
		{
			desc: "receiver not a pointer to a struct",
			got:  new(string),
			b:    []byte(`{"content": "value"}`),
			err:  true,
		},
		{
			desc: "AdditionalFields not a map",
			b:    []byte(`{"content": "value"}`),
			got: &struct {
				AdditionalFields string `json:"-"`
			}{},
			err: true,
		},
		{
			desc: "malformed",
			b:    []byte(`{"name": `),
			got:  &StructA{},
			err:  true,
		},
		{
			desc: "not an object",
			b:    []byte(`["a"]`),
			got:  &StructA{},
			err:  true,
		},
		{
			desc: "Success, embedded fields are known",
			b: []byte(`
				{
					"home_account_id": "hid",
					"environment": "env",
					"name": "John",
					"id": 3,
					"unknown0": 10,
					"unknown1": {"nested":["x"]}
				}
			`),
			got: &StructA{},
			want: &StructA{
				Base: Base{HomeAccountID: "hid", Environment: "env"},
				Name: "John",
				ID:   3,
				AdditionalFields: map[string]interface{}{
					"unknown0": MarshalRaw(10),
					"unknown1": MarshalRaw(map[string]interface{}{"nested": []string{"x"}}),
				},
			},
		},
		{
			desc: "Success, no AdditionalFields",
			b:    []byte(`{"name": "n", "dropped": true}`),
			got:  &noExtras{},
			want: &noExtras{Name: "n"},
		},
	}

	for _, test := range tests {
		err := Unmarshal(test.b, test.got)
		switch {
		case err == nil && test.err:
			t.Errorf("TestUnmarshal(%s): got err == nil, want err != nil", test.desc)
			continue
		case err != nil && !test.err:
			t.Errorf("TestUnmarshal(%s): got err == %s, want err == nil", test.desc, err)
			continue
		case err != nil:
			continue
		}
		if diff := (&pretty.Config{IncludeUnexported: false}).Compare(test.want, test.got); diff != "" {
			t.Errorf("TestUnmarshal(%s): -want/+got:\n%s", test.desc, diff)
		}
	}
}

func TestMarshal(t *testing.T) {
	tests := []struct {
		desc string
		v    interface{}
		want string
	}{
		{
			desc: "nulls dropped, extras spliced",
			v: StructA{
				Name:             "John",
				ID:               3,
				AdditionalFields: map[string]interface{}{"unknown": "x", "num": MarshalRaw(1.5)},
			},
			want: `{"id":3,"name":"John","num":1.5,"unknown":"x"}`,
		},
		{
			desc: "declared field wins",
			v: &StructA{
				Name:             "John",
				AdditionalFields: map[string]interface{}{"name": "other"},
			},
			want: `{"id":0,"name":"John"}`,
		},
		{
			desc: "non struct passes through",
			v:    []string{"a"},
			want: `["a"]`,
		},
	}

	for _, test := range tests {
		got, err := Marshal(test.v)
		if err != nil {
			t.Errorf("TestMarshal(%s): got err == %s, want err == nil", test.desc, err)
			continue
		}
		if string(got) != test.want {
			t.Errorf("TestMarshal(%s): got %s, want %s", test.desc, got, test.want)
		}
	}
}

func TestRoundTripKeepsUnknownFields(t *testing.T) {
	in := []byte(`{"environment":"env","future_field":{"a":[1,2]},"home_account_id":"hid","id":7}`)

	got := StructA{}
	if err := Unmarshal(in, &got); err != nil {
		t.Fatalf("TestRoundTripKeepsUnknownFields: Unmarshal: %s", err)
	}
	out, err := Marshal(got)
	if err != nil {
		t.Fatalf("TestRoundTripKeepsUnknownFields: Marshal: %s", err)
	}
	if string(out) != string(in) {
		t.Errorf("TestRoundTripKeepsUnknownFields: got %s, want %s", out, in)
	}
}

func TestUnmarshalKnownFieldInOtherCase(t *testing.T) {
	in := []byte(`{"Home_Account_Id":"hid","ENVIRONMENT":"env","future_field":1}`)

	got := StructA{}
	if err := Unmarshal(in, &got); err != nil {
		t.Fatalf("TestUnmarshalKnownFieldInOtherCase: Unmarshal: %s", err)
	}
	if got.HomeAccountID != "hid" || got.Environment != "env" {
		t.Errorf("TestUnmarshalKnownFieldInOtherCase: got %+v", got)
	}
	if diff := pretty.Compare(map[string]interface{}{"future_field": MarshalRaw(1)}, got.AdditionalFields); diff != "" {
		t.Errorf("TestUnmarshalKnownFieldInOtherCase: AdditionalFields: -want/+got:\n%s", diff)
	}

	out, err := Marshal(got)
	if err != nil {
		t.Fatalf("TestUnmarshalKnownFieldInOtherCase: Marshal: %s", err)
	}
	want := `{"environment":"env","future_field":1,"home_account_id":"hid","id":0}`
	if string(out) != want {
		t.Errorf("TestUnmarshalKnownFieldInOtherCase: got %s, want %s", out, want)
	}
}

func TestNames(t *testing.T) {
	got := Names(reflect.TypeOf(StructA{}))
	sort.Strings(got)
	want := []string{"Ptr", "environment", "home_account_id", "id", "name"}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Errorf("TestNames: -want/+got:\n%s", diff)
	}
}
