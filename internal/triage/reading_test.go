package triage

import (
	"encoding/json"
	"math"
	"testing"
)

func TestReading_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Reading
	}{
		{`72`, Some(72)},
		{`98.6`, Some(98.6)},
		{`"120"`, Some(120)},
		{`" 80 "`, Some(80)},
		{`null`, Reading{}},
		{`true`, Reading{}},
		{`"high"`, Reading{}},
		{`{"value": 3}`, Reading{}},
		{`[1]`, Reading{}},
	}

	for _, tt := range tests {
		var r Reading
		if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
			t.Errorf("%s: unexpected error %v", tt.in, err)
			continue
		}
		if r != tt.want {
			t.Errorf("%s = %+v, want %+v", tt.in, r, tt.want)
		}
	}
}

func TestReading_MarshalJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(struct {
		A Reading `json:"a"`
		B Reading `json:"b"`
		C Reading `json:"c"`
	}{A: Some(120.5), C: Some(math.NaN())})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `{"a":120.5,"b":null,"c":null}`; got != want {
		t.Errorf("marshal = %s, want %s", got, want)
	}
}

func TestReading_Or(t *testing.T) {
	t.Parallel()

	if got := (Reading{}).Or(7); got != 7 {
		t.Errorf("absent = %v", got)
	}
	if got := Some(math.Inf(1)).Or(7); got != 7 {
		t.Errorf("inf = %v", got)
	}
	if got := Some(0).Or(7); got != 0 {
		t.Errorf("zero = %v", got)
	}
}
