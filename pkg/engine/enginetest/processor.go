package enginetest

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/wehubfusion/dfdlrecord/pkg/engine"
	"github.com/wehubfusion/dfdlrecord/pkg/infoset"
)

// Processor implements engine.Processor. It is immutable.
type Processor struct {
	def        *definition
	mode       engine.ValidationMode
	vars       map[string]string
	configFile string
}

// ValidationMode returns the mode the processor runs with
func (p *Processor) ValidationMode() engine.ValidationMode { return p.mode }

// Variables returns the bound external variables
func (p *Processor) Variables() map[string]string { return maps.Clone(p.vars) }

// ConfigFile returns the bound configuration file
func (p *Processor) ConfigFile() string { return p.configFile }

func (p *Processor) clone() *Processor {
	c := *p
	c.vars = maps.Clone(p.vars)
	return &c
}

// WithValidationMode implements engine.Processor
func (p *Processor) WithValidationMode(mode engine.ValidationMode) (engine.Processor, error) {
	c := p.clone()
	c.mode = mode
	return c, nil
}

// WithExternalVariables implements engine.Processor. Only variables declared
// by the source can be bound.
func (p *Processor) WithExternalVariables(vars map[string]string) (engine.Processor, error) {
	c := p.clone()
	for name, value := range vars {
		if _, ok := p.def.Variables[name]; !ok {
			return nil, fmt.Errorf("unknown external variable %q", name)
		}
		c.vars[name] = value
	}
	return c, nil
}

// WithConfigFile implements engine.Processor
func (p *Processor) WithConfigFile(path string) (engine.Processor, error) {
	c := p.clone()
	c.configFile = path
	return c, nil
}

func (p *Processor) separator() []byte {
	if sep := p.vars["separator"]; sep != "" {
		return []byte(sep)
	}
	return []byte("\n")
}

// Parse implements engine.Processor
func (p *Processor) Parse(in *engine.InputSource) engine.ParseResult {
	var res engine.ParseResult
	switch p.def.Grammar {
	case GrammarDigits:
		res = p.parseDigit(in)
	case GrammarLines:
		res = p.parseLine(in)
	case GrammarKeyValue:
		res = p.parseKeyValue(in)
	case GrammarEmpty:
		res = engine.ParseResult{Root: infoset.NewNode("")}
	}
	res.BitPosition = in.BitPosition()
	return res
}

func failed(format string, args ...any) engine.ParseResult {
	return engine.ParseResult{
		IsError:     true,
		Diagnostics: engine.Diagnostics{engine.NewError(fmt.Sprintf(format, args...))},
	}
}

func (p *Processor) parseDigit(in *engine.InputSource) engine.ParseResult {
	b, err := in.Peek(1)
	if err != nil {
		return failed("read failed: %v", err)
	}
	if len(b) == 0 {
		return failed("no data at bit %d", in.BitPosition())
	}
	if b[0] < '0' || b[0] > '9' {
		return failed("unexpected %q at bit %d", b[0], in.BitPosition())
	}
	c, err := in.ReadByte()
	if err != nil {
		return failed("read failed: %v", err)
	}
	root := infoset.NewNode("")
	root.AddChild(infoset.NewLeaf("value", string(c)))
	return engine.ParseResult{Root: root}
}

// readLine consumes bytes up to and including the separator
func (p *Processor) readLine(in *engine.InputSource) (string, error) {
	has, err := in.HasData()
	if err != nil {
		return "", err
	}
	if !has {
		return "", fmt.Errorf("no data at bit %d", in.BitPosition())
	}
	sep := p.separator()
	var line []byte
	for {
		peek, err := in.Peek(len(sep))
		if err != nil {
			return "", err
		}
		if len(peek) == 0 {
			break
		}
		if bytes.Equal(peek, sep) {
			if _, err := in.Discard(len(sep)); err != nil {
				return "", err
			}
			break
		}
		c, err := in.ReadByte()
		if err != nil {
			return "", err
		}
		line = append(line, c)
	}
	return string(line), nil
}

func (p *Processor) parseLine(in *engine.InputSource) engine.ParseResult {
	line, err := p.readLine(in)
	if err != nil {
		return failed("%v", err)
	}
	if line == "" && p.mode == engine.ValidationFull {
		return failed("validation error: empty line before bit %d", in.BitPosition())
	}
	root := infoset.NewNode("")
	root.AddChild(infoset.NewLeaf("line", line))
	return engine.ParseResult{Root: root}
}

func (p *Processor) parseKeyValue(in *engine.InputSource) engine.ParseResult {
	line, err := p.readLine(in)
	if err != nil {
		return failed("%v", err)
	}
	k, v, ok := strings.Cut(line, "=")
	if !ok || k == "" {
		return failed("expected key=value before bit %d, got %q", in.BitPosition(), line)
	}
	inner := infoset.NewNode("root")
	inner.AddChild(infoset.NewLeaf(k, v))
	root := infoset.NewNode("")
	root.AddChild(inner)
	return engine.ParseResult{Root: root}
}

// Unparse implements engine.Processor
func (p *Processor) Unparse(root *infoset.Node, w io.Writer) engine.UnparseResult {
	if root == nil {
		return unparseFailed("infoset is empty")
	}
	var buf bytes.Buffer
	switch p.def.Grammar {
	case GrammarDigits:
		for _, l := range leaves(root) {
			v, _ := l.Value()
			buf.WriteString(v)
		}
	case GrammarLines:
		for _, l := range leaves(root) {
			v, _ := l.Value()
			buf.WriteString(v)
			buf.Write(p.separator())
		}
	case GrammarKeyValue:
		for _, l := range leaves(root) {
			v, _ := l.Value()
			fmt.Fprintf(&buf, "%s=%s\n", l.Name(), v)
		}
	case GrammarEmpty:
		return engine.UnparseResult{}
	}
	if buf.Len() == 0 {
		return unparseFailed("infoset has no values")
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return unparseFailed(fmt.Sprintf("write failed: %v", err))
	}
	return engine.UnparseResult{}
}

func unparseFailed(msg string) engine.UnparseResult {
	return engine.UnparseResult{IsError: true, Diagnostics: engine.Diagnostics{engine.NewError(msg)}}
}

func leaves(n *infoset.Node) []*infoset.Node {
	if _, ok := n.Value(); ok {
		return []*infoset.Node{n}
	}
	var out []*infoset.Node
	for c := range n.Children() {
		out = append(out, leaves(c)...)
	}
	return out
}
