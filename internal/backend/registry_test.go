package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyujaq/hearth/internal/model"
)

func TestRegistryLookups(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{Name: "fast", Class: model.ClassFast}, nil)
	reg.Register(Descriptor{Name: "deep", Class: model.ClassDeep}, nil)
	reg.Register(Descriptor{Name: "deep-2", Class: model.ClassDeep}, nil)

	d, ok := reg.Descriptor("fast")
	require.True(t, ok)
	assert.Equal(t, model.ClassFast, d.Class)

	_, ok = reg.Descriptor("missing")
	assert.False(t, ok)

	// First registration of the class wins.
	d, ok = reg.ByClass(model.ClassDeep)
	require.True(t, ok)
	assert.Equal(t, "deep", d.Name)

	_, ok = reg.ByClass(model.ClassVision)
	assert.False(t, ok)

	assert.Equal(t, []string{"fast", "deep", "deep-2"}, reg.Names())
}

func TestRegistryOverwrite(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Descriptor{Name: "fast", Class: model.ClassFast, MaxTokens: 128}, nil)
	reg.Register(Descriptor{Name: "fast", Class: model.ClassFast, MaxTokens: 512}, nil)

	d, ok := reg.Descriptor("fast")
	require.True(t, ok)
	assert.Equal(t, 512, d.MaxTokens)
	assert.Equal(t, []string{"fast"}, reg.Names())
}
