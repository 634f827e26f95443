package record

import (
	"math/big"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SetKeepsInsertionOrder(t *testing.T) {
	r := New(nil)
	r.Set("b", "1")
	r.Set("a", "2")
	r.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, r.Fields())
	assert.Equal(t, 2, r.Len())
	v, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestRecord_MarshalJSON(t *testing.T) {
	inner := New(nil)
	inner.Set("z", int32(5))
	inner.Set("a", big.NewInt(12345678901234))

	r := New(nil)
	r.Set("name", "x")
	r.Set("nested", inner)
	r.Set("items", []any{"1", inner})

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"name":"x","nested":{"z":5,"a":12345678901234},"items":["1",{"z":5,"a":12345678901234}]}`,
		string(data))

	all, err := MarshalRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(all))
}

func TestRecord_ToPlainMap(t *testing.T) {
	inner := New(nil)
	inner.Set("x", "1")
	r := New(nil)
	r.Set("in", inner)
	r.Set("arr", []any{inner})

	assert.Equal(t, map[string]any{
		"in":  map[string]any{"x": "1"},
		"arr": []any{map[string]any{"x": "1"}},
	}, r.ToPlainMap())
}

func TestParseJSONRecords(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "single object", input: `{"a": 1}`, want: 1},
		{name: "array", input: `[{"a": 1}, {"a": 2}]`, want: 2},
		{name: "concatenated", input: `{"a": 1} {"a": 2} {"a": 3}`, want: 3},
		{name: "empty", input: ``, want: 0},
		{name: "scalar", input: `42`, wantErr: true},
		{name: "array of scalars", input: `[1, 2]`, wantErr: true},
		{name: "malformed", input: `{"a":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONRecords([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestParseJSONRecords_KeepsNumberLiterals(t *testing.T) {
	got, err := ParseJSONRecords([]byte(`{"n": 1.50}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	n, ok := got[0]["n"].(json.Number)
	require.True(t, ok)
	assert.Equal(t, "1.50", n.String())
}

func TestSchema_String(t *testing.T) {
	s := NewSchema("root",
		Required("a", Scalar(KindInt)),
		Optional("b", ArrayOf(Scalar(KindString))),
		Required("", ChoiceOf(RecordOf(NewSchema("", Required("c", Scalar(KindLong)))))),
	)
	assert.Equal(t, "root{a: INT, b?: ARRAY[STRING], : CHOICE[RECORD{c: LONG}]}", s.String())

	k, ok := ParseScalarKind("bigint")
	require.True(t, ok)
	assert.Equal(t, KindBigInt, k)
	_, ok = ParseScalarKind("decimal")
	assert.False(t, ok)
}
