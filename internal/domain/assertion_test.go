package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompareOp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    CompareOp
		wantErr bool
	}{
		{"gte", ">=", OpGTE, false},
		{"lte", "<=", OpLTE, false},
		{"eq", "=", OpEQ, false},
		{"exists", "exists", OpExists, false},
		{"unknown operator", "banana", "", true},
		{"empty", "", "", true},
		{"double equals", "==", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCompareOp(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareOp_Compare(t *testing.T) {
	tests := []struct {
		name     string
		op       CompareOp
		observed float64
		expected float64
		want     bool
	}{
		{"gte above", OpGTE, 0.96, 0.95, true},
		{"gte equal", OpGTE, 0.95, 0.95, true},
		{"gte below", OpGTE, 0.94, 0.95, false},
		{"lte below", OpLTE, 0.1, 0.2, true},
		{"lte equal", OpLTE, 0.2, 0.2, true},
		{"lte above", OpLTE, 0.3, 0.2, false},
		{"eq exact", OpEQ, 1.0, 1.0, true},
		{"eq within epsilon", OpEQ, 1.0 + 1e-10, 1.0, true},
		{"eq outside epsilon", OpEQ, 1.0 + 1e-8, 1.0, false},
		{"eq zero", OpEQ, 0.0, 0.0, true},
		{"exists is compare-true", OpExists, 0.0, 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.Compare(tt.observed, tt.expected))
		})
	}
}

func TestParseAssertionKind(t *testing.T) {
	for _, valid := range []string{"graph", "reasoning", "answer", "impact"} {
		kind, err := ParseAssertionKind(valid)
		require.NoError(t, err)
		assert.Equal(t, AssertionKind(valid), kind)
	}

	_, err := ParseAssertionKind("vibes")
	assert.Error(t, err)
}

func TestParseSeverity(t *testing.T) {
	for _, valid := range []string{"error", "warning", "info"} {
		sev, err := ParseSeverity(valid)
		require.NoError(t, err)
		assert.Equal(t, Severity(valid), sev)
	}

	_, err := ParseSeverity("catastrophic")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	outcomes := []AssertionOutcome{
		{AssertionID: "a1", Passed: true, Severity: SeverityError},
		{AssertionID: "a2", Passed: false, Severity: SeverityError},
		{AssertionID: "a3", Passed: false, Severity: SeverityWarning},
		{AssertionID: "a4", Passed: false, Severity: SeverityWarning},
		{AssertionID: "a5", Passed: true, Severity: SeverityInfo},
	}

	summary := Summarize(outcomes)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 1, summary.FailedBySeverity[SeverityError])
	assert.Equal(t, 2, summary.FailedBySeverity[SeverityWarning])
	assert.Equal(t, 0, summary.FailedBySeverity[SeverityInfo])
	assert.InDelta(t, 0.4, summary.PassRate, 1e-12)
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)

	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 1.0, summary.PassRate, "empty assertion set passes vacuously")
}
