package enginetest

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/infoset"
)

func processor(t *testing.T, source []byte) engine.Processor {
	t.Helper()
	f, err := New().Compile(context.Background(), source, nil)
	require.NoError(t, err)
	require.False(t, f.IsError(), f.Diagnostics().String())
	p, err := f.Processor()
	require.NoError(t, err)
	return p
}

func TestDigits(t *testing.T) {
	p := processor(t, DigitsSource())
	in := engine.NewInputSource(strings.NewReader("4x"))

	res := p.Parse(in)
	require.False(t, res.IsError)
	assert.Equal(t, int64(8), res.BitPosition)
	v, ok := res.Root.Child("value")
	require.True(t, ok)
	val, _ := v.Value()
	assert.Equal(t, "4", val)

	res = p.Parse(in)
	assert.True(t, res.IsError)
	assert.Equal(t, int64(8), res.BitPosition, "failure does not consume")
}

func TestLines_SeparatorVariable(t *testing.T) {
	base := processor(t, LinesSource())
	p, err := base.WithExternalVariables(map[string]string{"separator": ";"})
	require.NoError(t, err)

	in := engine.NewInputSource(strings.NewReader("a;b"))
	var got []string
	for {
		has, err := in.HasData()
		require.NoError(t, err)
		if !has {
			break
		}
		res := p.Parse(in)
		require.False(t, res.IsError)
		l, _ := res.Root.Child("line")
		v, _ := l.Value()
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, "\n", base.(*Processor).Variables()["separator"], "overlay leaves the base untouched")

	_, err = base.WithExternalVariables(map[string]string{"nope": "1"})
	assert.Error(t, err)
}

func TestLines_FullValidationRejectsEmptyLine(t *testing.T) {
	p, err := processor(t, LinesSource()).WithValidationMode(engine.ValidationFull)
	require.NoError(t, err)
	res := p.Parse(engine.NewInputSource(strings.NewReader("\nx\n")))
	assert.True(t, res.IsError)
	assert.Equal(t, int64(8), res.BitPosition)
}

func TestKeyValue(t *testing.T) {
	p := processor(t, KeyValueSource())
	res := p.Parse(engine.NewInputSource(strings.NewReader("B=2\n")))
	require.False(t, res.IsError)
	inner, ok := res.Root.Child("root")
	require.True(t, ok, res.Root.String())
	assert.Equal(t, []string{"B"}, inner.ChildNames())

	var buf bytes.Buffer
	out := p.Unparse(res.Root, &buf)
	require.False(t, out.IsError)
	assert.Equal(t, "B=2\n", buf.String())
}

func TestCompileErrors(t *testing.T) {
	e := New()
	for _, src := range [][]byte{
		[]byte("not json"),
		Source("regex", `{"fields": [{"name": "a", "type": "INT"}]}`, nil),
		Source(GrammarDigits, `{"fields": [{"name": "a", "type": "NOPE"}]}`, nil),
	} {
		f, err := e.Compile(context.Background(), src, nil)
		require.NoError(t, err)
		assert.True(t, f.IsError())
		_, err = f.Processor()
		assert.Error(t, err)
	}
	assert.Equal(t, int64(3), e.Compiles())
}

func TestReload(t *testing.T) {
	e := New()
	f, err := e.Reload(context.Background(), Save(DigitsSource()))
	require.NoError(t, err)
	assert.False(t, f.IsError())
	assert.Equal(t, "digit", f.RecordSchema().Name)

	f, err = e.Reload(context.Background(), DigitsSource())
	require.NoError(t, err)
	assert.True(t, f.IsError())
	assert.Equal(t, int64(2), e.Reloads())
	assert.Zero(t, e.Compiles())
}

func TestUnparseEmptyTree(t *testing.T) {
	p := processor(t, DigitsSource())
	res := p.Unparse(infoset.NewNode(""), &bytes.Buffer{})
	assert.True(t, res.IsError)
}
