package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTool struct {
	def    Definition
	result *Result
	err    error
}

func (f *fakeTool) Definition() Definition { return f.def }

func (f *fakeTool) Execute(ctx context.Context, call Call) (*Result, error) {
	return f.result, f.err
}

func TestFootprintExceeds(t *testing.T) {
	var nilFootprint *Footprint
	assert.False(t, nilFootprint.Exceeds(5, 200), "nil footprint never exceeds anything")

	f := &Footprint{Files: 6, Lines: 100}
	assert.True(t, f.Exceeds(5, 200), "exceeds on files alone")

	f = &Footprint{Files: 2, Lines: 500}
	assert.True(t, f.Exceeds(5, 200), "exceeds on lines alone")

	f = &Footprint{Files: 5, Lines: 200}
	assert.False(t, f.Exceeds(5, 200), "exactly at the cap does not exceed")
}

func TestDeclaredFootprint(t *testing.T) {
	fp, err := DeclaredFootprint(Call{Params: []byte(`{"footprint":{"files":3,"lines":40}}`)})
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, 3, fp.Files)
	assert.Equal(t, 40, fp.Lines)

	fp, err = DeclaredFootprint(Call{Params: []byte(`{"path":"main.go"}`)})
	require.NoError(t, err)
	assert.Nil(t, fp, "params without a footprint field declare none")

	fp, err = DeclaredFootprint(Call{})
	require.NoError(t, err)
	assert.Nil(t, fp, "empty params declare no footprint")

	_, err = DeclaredFootprint(Call{Params: []byte(`not json`)})
	assert.Error(t, err)
}

func TestMapRegistryGetAndList(t *testing.T) {
	readTool := &fakeTool{def: Definition{Name: "read_file", Category: ReadOnly}}
	patchTool := &fakeTool{def: Definition{Name: "apply_patch", Category: Mutating, Verification: false}}

	reg := NewMapRegistry(readTool, patchTool)

	got, ok := reg.Get("read_file")
	require.True(t, ok)
	assert.Same(t, readTool, got)

	_, ok = reg.Get("does_not_exist")
	assert.False(t, ok)

	defs := reg.List()
	assert.Len(t, defs, 2)
}

func TestMapRegistryEmpty(t *testing.T) {
	reg := NewMapRegistry()
	assert.Empty(t, reg.List())
	_, ok := reg.Get("anything")
	assert.False(t, ok)
}
