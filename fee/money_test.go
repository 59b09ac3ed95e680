package fee

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"quoted string", `"1000"`, "1000.00"},
		{"number", `12.5`, "12.50"},
		{"rounds half up", `"333.335"`, "333.34"},
		{"empty string", `""`, "0.00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var m Money
			require.NoError(t, json.Unmarshal([]byte(tc.input), &m))
			assert.Equal(t, tc.expect, m.String())
		})
	}
}

func TestMoney_UnmarshalJSON_Invalid(t *testing.T) {
	var m Money

	err := json.Unmarshal([]byte(`"ten"`), &m)

	assert.Error(t, err)
}

func TestMoney_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: MustMoney("5500")})

	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"5500.00"}`, string(data))
}

func TestMoney_DivFloor(t *testing.T) {
	m := MustMoney("1000")

	part := m.DivFloor(3)

	assert.Equal(t, "333.33", part.String())
	assert.Equal(t, "333.34", m.Sub(part.Mul(2)).String())
}

func TestMoney_FloorZero(t *testing.T) {
	assert.Equal(t, "0.00", MustMoney("-5").FloorZero().String())
	assert.Equal(t, "5.00", MustMoney("5").FloorZero().String())
}

func TestSumMoney(t *testing.T) {
	assert.Equal(t, "0.00", SumMoney().String())
	assert.Equal(t, "10.30", SumMoney(MustMoney("0.1"), MustMoney("0.2"), MustMoney("10")).String())
}
