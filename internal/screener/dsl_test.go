package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/quantk/internal/rpc"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Condition
	}{
		{"simple less-than", "PER<10", Condition{"PER", "<", 10}},
		{"whitespace trimmed", "  PBR >= 1.5  ", Condition{"PBR", ">=", 1.5}},
		{"two-char operator wins over one-char", "ROE<=15", Condition{"ROE", "<=", 15}},
		{"not-equal", "DIV!=0", Condition{"DIV", "!=", 0}},
		{"equality", "EPS==5000", Condition{"EPS", "==", 5000}},
		{"market cap alias with trillion suffix", "시총>1조", Condition{"MARKET_CAP", ">", 1e12}},
		{"long cap alias with hundred-million suffix", "시가총액>=500억", Condition{"MARKET_CAP", ">=", 5e10}},
		{"dividend alias with percent suffix", "배당률>3%", Condition{"DIV", ">", 3}},
		{"roe alias", "자기자본이익률>15", Condition{"ROE", ">", 15}},
		{"ten-thousand suffix", "EPS>5만", Condition{"EPS", ">", 50000}},
		{"fractional with unit", "시총>1.5조", Condition{"MARKET_CAP", ">", 1.5e12}},
		{"negative value", "EPS>-1000", Condition{"EPS", ">", -1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCondition(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConditionErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no operator", "PER10"},
		{"empty", ""},
		{"empty factor", "<10"},
		{"double operator", "PER<10<20"},
		{"bad number", "PER<abc"},
		{"bad number with unit", "시총>x조"},
		{"unknown factor", "WOOF<10"},
		{"unknown alias", "몸무게<10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCondition(tt.input)
			require.Error(t, err)

			var rpcErr *rpc.Error
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, rpc.CodeScreenError, rpcErr.Code)
		})
	}
}

func TestParseConditionsAllOrNothing(t *testing.T) {
	// The first malformed condition aborts the whole list
	_, err := ParseConditions([]string{"PER<10", "garbage", "PBR<1"})
	require.Error(t, err)

	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeScreenError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "garbage")
}

func TestConditionMatches(t *testing.T) {
	tests := []struct {
		cond Condition
		v    float64
		want bool
	}{
		{Condition{"PER", "<", 10}, 5, true},
		{Condition{"PER", "<", 10}, 10, false},
		{Condition{"PER", "<=", 10}, 10, true},
		{Condition{"PER", ">", 10}, 11, true},
		{Condition{"PER", ">=", 10}, 9.99, false},
		{Condition{"PER", "==", 10}, 10, true},
		{Condition{"PER", "!=", 10}, 10, false},
		{Condition{"PER", "!=", 10}, 9, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cond.Matches(tt.v), "%v against %v", tt.cond, tt.v)
	}
}
