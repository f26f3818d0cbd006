package jsonutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := MarshalCanonicalString(map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
		"mid":   map[string]int{"z": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"z":1},"zebra":1}`+"\n", out)
}

func TestMarshalCanonicalStructFieldOrderIrrelevant(t *testing.T) {
	type ab struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	type ba struct {
		A string `json:"a"`
		B string `json:"b"`
	}

	first, err := MarshalCanonicalString(ab{A: "1", B: "2"})
	require.NoError(t, err)
	second, err := MarshalCanonicalString(ba{A: "1", B: "2"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMarshalCanonicalSingleLine(t *testing.T) {
	out, err := MarshalCanonicalString(map[string]interface{}{
		"nested": map[string]interface{}{"list": []int{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.NotContains(t, strings.TrimSuffix(out, "\n"), " ")
}

func TestMarshalCanonicalPreservesNumberText(t *testing.T) {
	out, err := MarshalCanonicalString(map[string]interface{}{
		"big":   int64(9007199254740993),
		"price": "50000.01",
	})
	require.NoError(t, err)
	// UseNumber keeps large integers exact through the round trip
	assert.Contains(t, out, "9007199254740993")
	assert.Contains(t, out, `"50000.01"`)
}

func TestMarshalCanonicalIsStable(t *testing.T) {
	value := map[string]interface{}{
		"orders": []map[string]interface{}{
			{"cid": "CLI00000001", "state": "OPEN"},
		},
		"count": 1,
	}
	first, err := MarshalCanonical(value)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := MarshalCanonical(value)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshalCanonicalRejectsUnencodable(t *testing.T) {
	_, err := MarshalCanonical(map[string]interface{}{"fn": func() {}})
	assert.Error(t, err)
}
