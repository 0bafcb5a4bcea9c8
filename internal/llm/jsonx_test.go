package llm

import (
	"errors"
	"testing"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			"bare object",
			`{"score": 0.9}`,
			`{"score": 0.9}`,
			false,
		},
		{
			"prose around object",
			`Sure! Here is the assessment: {"relevant": true} Hope that helps.`,
			`{"relevant": true}`,
			false,
		},
		{
			"markdown fence",
			"```json\n{\"cves\": [\"CVE-2026-1234\"]}\n```",
			`{"cves": ["CVE-2026-1234"]}`,
			false,
		},
		{
			"nested objects",
			`{"outer": {"inner": 1}, "n": 2} trailing`,
			`{"outer": {"inner": 1}, "n": 2}`,
			false,
		},
		{
			"braces inside string literal",
			`{"rationale": "matches {weight} rule"}`,
			`{"rationale": "matches {weight} rule"}`,
			false,
		},
		{
			"escaped quote inside string",
			`{"title": "the \"fix\" { landed"}`,
			`{"title": "the \"fix\" { landed"}`,
			false,
		},
		{
			"first of two objects",
			`{"a": 1} {"b": 2}`,
			`{"a": 1}`,
			false,
		},
		{"no object", "the model declined to answer", "", true},
		{"unterminated object", `{"a": 1`, "", true},
		{"empty input", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				if !errors.Is(err, core.ErrModelFailure) {
					t.Fatalf("ExtractJSON() error = %v, want ErrModelFailure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	var out struct {
		Relevant bool    `json:"relevant"`
		Score    float64 `json:"score"`
	}
	response := "Assessment follows.\n```json\n{\"relevant\": true, \"score\": 0.85}\n```"
	if err := DecodeResponse(response, &out); err != nil {
		t.Fatalf("DecodeResponse() error = %v", err)
	}
	if !out.Relevant || out.Score != 0.85 {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDecodeResponseShapeMismatch(t *testing.T) {
	var out struct {
		Score float64 `json:"score"`
	}
	err := DecodeResponse(`{"score": "not a number"}`, &out)
	if !errors.Is(err, core.ErrModelFailure) {
		t.Errorf("DecodeResponse() error = %v, want ErrModelFailure", err)
	}
}

func TestDecodeResponseNoObject(t *testing.T) {
	var out map[string]any
	err := DecodeResponse("I cannot produce JSON for this input.", &out)
	if !errors.Is(err, core.ErrModelFailure) {
		t.Errorf("DecodeResponse() error = %v, want ErrModelFailure", err)
	}
}
