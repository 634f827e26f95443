package cache

import (
	"slices"
	"strconv"
	"strings"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
)

// Key identifies one compiled artifact. Keys are compared structurally:
// variable and tunable maps compare without regard to order, and a nil map
// equals an empty one.
type Key struct {
	SchemaRef         string
	Precompiled       bool
	ValidationMode    engine.ValidationMode
	ExternalVariables map[string]string
	Tunables          map[string]string
	ConfigFile        string
}

// Fingerprint returns a canonical string form of the key. Equal keys have
// equal fingerprints.
func (k Key) Fingerprint() string {
	var b strings.Builder
	b.WriteString(strconv.Quote(k.SchemaRef))
	b.WriteString("|precompiled=")
	b.WriteString(strconv.FormatBool(k.Precompiled))
	b.WriteString("|validation=")
	b.WriteString(k.ValidationMode.String())
	b.WriteString("|config=")
	b.WriteString(strconv.Quote(k.ConfigFile))
	b.WriteString("|vars=")
	writeMap(&b, k.ExternalVariables)
	b.WriteString("|tunables=")
	writeMap(&b, k.Tunables)
	return b.String()
}

// Equal reports whether two keys identify the same artifact
func (k Key) Equal(o Key) bool {
	return k.Fingerprint() == o.Fingerprint()
}

func writeMap(b *strings.Builder, m map[string]string) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(name))
		b.WriteByte(':')
		b.WriteString(strconv.Quote(m[name]))
	}
	b.WriteByte('}')
}
