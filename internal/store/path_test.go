package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertJSONPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$.foo.bar", "foo.bar"},
		{"$.items[0].id", "items.0.id"},
		{"$.data[*].name", "data.#.name"},
		{"$.arr.#", "arr.#"},
		{"arr", "arr"},
		{"$[1]", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, convertJSONPath(tt.in))
		})
	}
}

func TestDocument_Lookup(t *testing.T) {
	doc := Document{
		"_id": "3",
		"arr": []any{1, 2, 5},
		"meta": map[string]any{
			"owner": "tid-2",
		},
	}

	v, ok := doc.Lookup("$.arr[2]")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	v, ok = doc.Lookup("$.arr.#")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = doc.Lookup("$.meta.owner")
	require.True(t, ok)
	assert.Equal(t, "tid-2", v)

	_, ok = doc.Lookup("$.missing")
	assert.False(t, ok)
}

func TestDocument_Extract(t *testing.T) {
	doc := Document{"a": 1, "b": map[string]any{"c": "x"}}

	got, err := doc.Extract(map[string]string{"first": "$.a", "second": "$.b.c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first": 1.0, "second": "x"}, got)

	_, err = doc.Extract(map[string]string{"x": "$.nope", "y": "$.nada"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.nope")
	assert.Contains(t, err.Error(), "$.nada")
}

func TestEncodeDecode_NormalizesNumbers(t *testing.T) {
	b, err := Encode(Document{"n": 3, "arr": []int{1}})
	require.NoError(t, err)

	doc, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, 3.0, doc["n"])
	assert.Equal(t, []any{1.0}, doc["arr"])
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("{"))
	assert.Error(t, err)
}
