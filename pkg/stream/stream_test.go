package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/engine/enginetest"
	"github.com/wehubfusion/dfdlrecord/pkg/mapper"
	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

func compiled(t *testing.T, source []byte) (engine.Processor, *record.Schema) {
	t.Helper()
	f, err := enginetest.New().Compile(context.Background(), source, nil)
	require.NoError(t, err)
	require.False(t, f.IsError(), f.Diagnostics().String())
	p, err := f.Processor()
	require.NoError(t, err)
	return p, f.RecordSchema()
}

func values(t *testing.T, recs []*record.Record, field string) []any {
	t.Helper()
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		v, ok := r.Get(field)
		require.True(t, ok)
		out = append(out, v)
	}
	return out
}

func readAll(t *testing.T, source []byte, input string, opts Options) ([]*record.Record, *Reader, error) {
	t.Helper()
	p, s := compiled(t, source)
	r := NewReader(p, s, strings.NewReader(input), opts)
	recs, err := ReadAll(context.Background(), r)
	return recs, r, err
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"off":             Off,
		"OFF":             Off,
		"all-or-nothing":  AllOrNothing,
		"ALL_SUCCESSFUL":  AllOrNothing,
		"best-effort":     BestEffort,
		"ONLY_SUCCESSFUL": BestEffort,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "best-effort", BestEffort.String())
}

func TestReader_BestEffortSkipsInvalidRecord(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	opts := Options{Mode: BestEffort, Logger: zap.New(core), Mapper: mapper.New(mapper.Options{CoerceTypes: true})}

	recs, r, err := readAll(t, enginetest.DigitsSource(), "1234567x9", opts)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), int32(2), int32(3), int32(4), int32(5), int32(6), int32(7)}, values(t, recs, "value"))
	assert.Equal(t, 7, r.Produced())
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, 1, logs.Len())
}

func TestReader_AllOrNothingAborts(t *testing.T) {
	recs, _, err := readAll(t, enginetest.DigitsSource(), "1234567x9", Options{Mode: AllOrNothing})
	require.Error(t, err)
	assert.Nil(t, recs)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "parse", ee.Op)
	assert.Equal(t, int64(56), ee.BitPosition)
}

func TestReader_AllOrNothingSuccess(t *testing.T) {
	recs, r, err := readAll(t, enginetest.DigitsSource(), "123", Options{Mode: AllOrNothing})
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "2", "3"}, values(t, recs, "value"))
	assert.Equal(t, int64(24), r.BitPosition())
}

func TestReader_Off(t *testing.T) {
	recs, _, err := readAll(t, enginetest.DigitsSource(), "5", Options{Mode: Off})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, _, err = readAll(t, enginetest.DigitsSource(), "55", Options{Mode: Off})
	assert.ErrorIs(t, err, ErrLeftoverData)
	assert.Nil(t, recs)
}

func TestReader_NoProgressIsFatal(t *testing.T) {
	for _, mode := range []Mode{Off, AllOrNothing, BestEffort} {
		source := enginetest.Source(enginetest.GrammarEmpty, `{"fields": [{"name": "a", "type": "STRING", "optional": true}]}`, nil)
		recs, _, err := readAll(t, source, "abc", Options{Mode: mode})
		assert.ErrorIs(t, err, ErrNoProgress, mode.String())
		assert.Nil(t, recs)
	}
}

func TestReader_EmptyInput(t *testing.T) {
	for _, mode := range []Mode{Off, AllOrNothing, BestEffort} {
		recs, _, err := readAll(t, enginetest.DigitsSource(), "", Options{Mode: mode})
		require.NoError(t, err, mode.String())
		assert.Empty(t, recs)
	}
}

func TestReader_MappingFailures(t *testing.T) {
	input := "B=2\nC=1\nD=4\n"

	recs, r, err := readAll(t, enginetest.KeyValueSource(), input, Options{Mode: BestEffort})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, r.Failed())
	first, _ := recs[0].Get("root")
	assert.Equal(t, map[string]any{"B": "2"}, first.(*record.Record).ToPlainMap())

	_, _, err = readAll(t, enginetest.KeyValueSource(), input, Options{Mode: AllOrNothing})
	assert.ErrorIs(t, err, mapper.ErrNoChoiceMatch)
}

func TestReader_EngineFailureWithProgressContinues(t *testing.T) {
	recs, r, err := readAll(t, enginetest.KeyValueSource(), "B=1\nbad\nD=3\n", Options{Mode: BestEffort})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 1, r.Failed())
}

func TestReader_TerminatesWithinInputBits(t *testing.T) {
	input := strings.Repeat("7", 64)
	p, s := compiled(t, enginetest.DigitsSource())
	r := NewReader(p, s, strings.NewReader(input), Options{Mode: BestEffort})

	steps := 0
	for {
		_, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		steps++
		require.LessOrEqual(t, steps, len(input)*8)
	}
	assert.Equal(t, int64(len(input)*8), r.BitPosition())
}

func TestReader_ContextCanceled(t *testing.T) {
	p, s := compiled(t, enginetest.DigitsSource())
	r := NewReader(p, s, strings.NewReader("123"), Options{Mode: AllOrNothing})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func digitRecords(vals ...string) []*record.Record {
	out := make([]*record.Record, len(vals))
	for i, v := range vals {
		r := record.New(nil)
		if v != "" {
			r.Set("value", v)
		}
		out[i] = r
	}
	return out
}

func TestWriter(t *testing.T) {
	p, s := compiled(t, enginetest.DigitsSource())

	t.Run("all records", func(t *testing.T) {
		var out strings.Builder
		w := NewWriter(p, s, &out, Options{Mode: AllOrNothing})
		n, err := WriteAll(context.Background(), w, digitRecords("1", "2", "3"))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, "123", out.String())
	})

	t.Run("off writes the first record only", func(t *testing.T) {
		var out strings.Builder
		w := NewWriter(p, s, &out, Options{Mode: Off})
		n, err := WriteAll(context.Background(), w, digitRecords("1", "2", "3"))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 2, w.Ignored())
		assert.Equal(t, "1", out.String())
	})

	t.Run("best effort skips bad records", func(t *testing.T) {
		var out strings.Builder
		w := NewWriter(p, s, &out, Options{Mode: BestEffort})
		n, err := WriteAll(context.Background(), w, digitRecords("1", "", "3"))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 1, w.Failed())
		assert.Equal(t, "13", out.String())
	})

	t.Run("all or nothing stops", func(t *testing.T) {
		var out strings.Builder
		w := NewWriter(p, s, &out, Options{Mode: AllOrNothing})
		_, err := WriteAll(context.Background(), w, digitRecords("1", "", "3"))
		assert.ErrorIs(t, err, mapper.ErrRequiredFieldMissing)
		assert.Equal(t, "1", out.String())
	})

	t.Run("output errors are fatal", func(t *testing.T) {
		w := NewWriter(p, s, failingWriter{}, Options{Mode: BestEffort})
		err := w.Write(context.Background(), digitRecords("1")[0])
		require.Error(t, err)
		assert.False(t, perRecord(err))
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
