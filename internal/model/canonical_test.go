package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": "2", "a": "1", "c": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2","c":true}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"x": "<a&b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"x":"<a&b>"}`, string(got))
}

func TestMarshalCanonical_NFCNormalizes(t *testing.T) {
	// e + combining acute vs precomposed e-acute
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	type order struct {
		Qty   float64 `json:"qty"`
		Price float64 `json:"price"`
		Count int     `json:"count"`
	}
	got, err := MarshalCanonical(order{Qty: 0.003, Price: 50000, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, `{"count":2,"price":50000,"qty":0.003}`, string(got))
}

func TestCanonicalizeJSON_FieldOrderIndependent(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"symbol":"BTC-USD","qty":1.5,"side":"buy"}`))
	require.NoError(t, err)
	b, err := CanonicalizeJSON([]byte(`{ "side":"buy", "qty":1.50, "symbol":"BTC-USD" }`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCanonicalizeJSON_InvalidInput(t *testing.T) {
	_, err := CanonicalizeJSON([]byte(`{not json`))
	assert.Error(t, err)
}

func TestMarshalCanonical_NestedArrays(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"phases": []any{map[string]any{"z": 1, "a": nil}}})
	require.NoError(t, err)
	assert.Equal(t, `{"phases":[{"a":null,"z":1}]}`, string(got))
}
