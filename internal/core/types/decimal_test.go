package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRound2_HalfUp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"33.335", "33.34"},
		{"0.125", "0.13"},
		{"10", "10"},
	}
	for _, tt := range tests {
		got := Round2(MustMoney(tt.in))
		if !got.Equal(MustMoney(tt.want)) {
			t.Errorf("Round2(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWithinCent(t *testing.T) {
	assert.True(t, WithinCent(MustMoney("10.00"), MustMoney("10.01")))
	assert.True(t, WithinCent(MustMoney("10.00"), MustMoney("9.995")))
	assert.False(t, WithinCent(MustMoney("10.00"), MustMoney("10.02")))
}

func TestIsInteger(t *testing.T) {
	assert.True(t, IsInteger(MustMoney("2")))
	assert.True(t, IsInteger(MustMoney("2.00")))
	assert.False(t, IsInteger(MustMoney("0.350")))
}

func TestFixed_MarshalJSON(t *testing.T) {
	payload := map[string]any{
		"vNF":  Fixed2(MustMoney("20")),
		"vPag": Fixed2(MustMoney("19.999")),
		"qCom": Fixed4(MustMoney("0.35")),
	}
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vNF":20.00,"vPag":20.00,"qCom":0.3500}`, string(b))
	assert.Contains(t, string(b), `"vNF":20.00`)
}

func TestFixed_UnmarshalJSON(t *testing.T) {
	var f Fixed
	require.NoError(t, json.Unmarshal([]byte(`"12.50"`), &f))
	assert.True(t, f.Value.Equal(MustMoney("12.5")))

	require.NoError(t, json.Unmarshal([]byte(`7.25`), &f))
	assert.Equal(t, "7.25", f.String())
}
