package jsonrepair

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "already valid",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "fenced json block",
			input: "Here is the plan:\n```json\n[{\"id\": \"t1\"}]\n```\nLet me know!",
			want:  `[{"id": "t1"}]`,
		},
		{
			name:  "untagged fence",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "surrounding prose",
			input: `Sure! The result is {"a": 1} as requested.`,
			want:  `{"a": 1}`,
		},
		{
			name:  "trailing comma",
			input: `{"a": 1, "b": [1, 2,],}`,
			want:  `{"a": 1, "b": [1, 2]}`,
		},
		{
			name:  "bare keys",
			input: `{a: 1, b_c: "x"}`,
			want:  `{"a": 1, "b_c": "x"}`,
		},
		{
			name:  "unbalanced braces",
			input: `{"a": {"b": [1, 2`,
			want:  `{"a": {"b": [1, 2]}}`,
		},
		{
			name:    "empty input",
			input:   "   ",
			wantErr: true,
		},
		{
			name:    "no json at all",
			input:   "I could not produce a plan.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Repair(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var perr *ParseError
				assert.True(t, errors.As(err, &perr))
				assert.Equal(t, tt.input, perr.Raw)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestRepairOutputAlwaysParses(t *testing.T) {
	inputs := []string{
		`[{"name": "a", "dependencies": ["b",]}]`,
		"```json\n[{id: \"x\"}\n```",
		`text before [1, 2, 3] text after`,
	}
	for _, in := range inputs {
		got, err := Repair(in)
		require.NoError(t, err, "input: %s", in)
		assert.True(t, json.Valid([]byte(got)), "repaired output must be valid JSON: %s", got)
	}
}

func TestBalanceRespectsStrings(t *testing.T) {
	got, err := Repair(`{"a": "brace { inside string"`)
	require.NoError(t, err)
	var m map[string]string
	require.NoError(t, json.Unmarshal([]byte(got), &m))
	assert.Equal(t, "brace { inside string", m["a"])
}
