package mapper

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/wehubfusion/dfdlrecord/pkg/record"
)

func coerce(kind record.ScalarKind, s string) (any, error) {
	switch kind {
	case record.KindString:
		return s, nil
	case record.KindBoolean:
		return strconv.ParseBool(s)
	case record.KindByte:
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), wrapCoerce(s, kind, err)
	case record.KindShort:
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), wrapCoerce(s, kind, err)
	case record.KindInt:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), wrapCoerce(s, kind, err)
	case record.KindLong:
		v, err := strconv.ParseInt(s, 10, 64)
		return v, wrapCoerce(s, kind, err)
	case record.KindBigInt:
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("could not cast %q to %s", s, kind)
		}
		return v, nil
	case record.KindFloat:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), wrapCoerce(s, kind, err)
	case record.KindDouble:
		v, err := strconv.ParseFloat(s, 64)
		return v, wrapCoerce(s, kind, err)
	}
	return nil, fmt.Errorf("unsupported coercion to %s", kind)
}

func wrapCoerce(s string, kind record.ScalarKind, err error) error {
	if err != nil {
		return fmt.Errorf("could not cast %q to %s: %w", s, kind, err)
	}
	return nil
}

// scalarString renders a record value as infoset text.
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}
