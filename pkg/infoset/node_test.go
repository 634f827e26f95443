package infoset

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_SetValueOnce(t *testing.T) {
	n := NewNode("a")
	_, ok := n.Value()
	assert.False(t, ok)

	require.NoError(t, n.SetValue("1"))
	err := n.SetValue("2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValueAlreadySet)

	v, ok := n.Value()
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestNode_SetName(t *testing.T) {
	anon := NewNode("")
	anon.SetName("")
	assert.Equal(t, "", anon.Name())

	anon.SetName("record")
	assert.Equal(t, "record", anon.Name())

	anon.SetName("other")
	assert.Equal(t, "record", anon.Name(), "named nodes keep their name")
}

func TestNode_ChildFirstMatch(t *testing.T) {
	root := NewNode("")
	root.AddChild(NewLeaf("x", "1"))
	root.AddChild(NewLeaf("y", "2"))
	root.AddChild(NewLeaf("x", "3"))

	c, ok := root.Child("x")
	require.True(t, ok)
	v, _ := c.Value()
	assert.Equal(t, "1", v, "first child in document order wins")

	_, ok = root.Child("z")
	assert.False(t, ok)
	assert.True(t, root.HasChild("y"))
	assert.Equal(t, []string{"x", "y", "x"}, root.ChildNames())
	assert.Equal(t, 3, root.Len())
}

func TestNode_ChildrenRestartable(t *testing.T) {
	root := NewArrayNode("arr")
	for _, v := range []string{"a", "b", "c"} {
		root.AddChild(NewLeaf("", v))
	}

	collect := func() []string {
		var out []string
		for c := range root.Children() {
			v, _ := c.Value()
			out = append(out, v)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, collect())
	assert.Equal(t, []string{"a", "b", "c"}, collect(), "iteration can be restarted")

	var first []string
	for c := range root.Children() {
		v, _ := c.Value()
		first = append(first, v)
		break
	}
	assert.Equal(t, []string{"a"}, first)
}

func TestNode_String(t *testing.T) {
	root := NewNode("root")
	arr := NewArrayNode("items")
	arr.AddChild(NewLeaf("", "7"))
	root.AddChild(arr)

	want := "root{\n\titems[\n\t\t{\n\t\t\t7\n\t\t}\n\t]\n}\n"
	assert.Equal(t, want, root.String(), spew.Sdump(root))
}
