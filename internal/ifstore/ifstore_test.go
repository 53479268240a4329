// SPDX-License-Identifier: GPL-3.0-or-later

package ifstore

import (
	"context"
	"testing"

	"github.com/esmicro/kernel/internal/conc"
	"github.com/esmicro/kernel/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSelf() *conc.Thread {
	return conc.NewThread(context.Background(), "test", conc.PriorityNormal)
}

func blobOf(t *testing.T, mod *Module) []byte {
	t.Helper()
	b, err := mod.Marshal()
	require.NoError(t, err)
	return b
}

func TestRegisterLookup(t *testing.T) {
	s := New(nil)
	self := newSelf()

	mod := &Module{Descriptors: []*Descriptor{
		{Name: "IBase", Methods: []MethodSig{{Name: "a", NumArgs: 0}}},
	}}
	require.NoError(t, s.Register(self, blobOf(t, mod)))

	d, err := s.Lookup(self, "IBase")
	require.NoError(t, err)
	assert.Equal(t, 1, d.InheritedMethodCount)
}

func TestLookupUnknownFails(t *testing.T) {
	s := New(nil)
	self := newSelf()
	_, err := s.Lookup(self, "IMissing")
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestRegisterIdenticalIsNoOp(t *testing.T) {
	s := New(nil)
	self := newSelf()
	mod := &Module{Descriptors: []*Descriptor{
		{Name: "IThing", Methods: []MethodSig{{Name: "m", NumArgs: 1}}},
	}}
	blob := blobOf(t, mod)
	require.NoError(t, s.Register(self, blob))
	require.NoError(t, s.Register(self, blob)) // identical: no-op
}

func TestRegisterConflictFails(t *testing.T) {
	s := New(nil)
	self := newSelf()
	mod1 := &Module{Descriptors: []*Descriptor{
		{Name: "IThing", Methods: []MethodSig{{Name: "m", NumArgs: 1}}},
	}}
	mod2 := &Module{Descriptors: []*Descriptor{
		{Name: "IThing", Methods: []MethodSig{{Name: "m", NumArgs: 2}}},
	}}
	require.NoError(t, s.Register(self, blobOf(t, mod1)))
	err := s.Register(self, blobOf(t, mod2))
	require.Error(t, err)
	assert.Equal(t, errkind.AlreadyExists, errkind.KindOf(err))
}

func TestInheritedMethodCountForwardReference(t *testing.T) {
	s := New(nil)
	self := newSelf()

	// IDerived is registered before its base IBase, exercising the
	// two-pass computation's tolerance of forward references.
	derived := &Module{Descriptors: []*Descriptor{
		{Name: "IDerived", Bases: []string{"IBase"}, Methods: []MethodSig{{Name: "d", NumArgs: 0}}},
	}}
	require.NoError(t, s.Register(self, blobOf(t, derived)))

	d, err := s.Lookup(self, "IDerived")
	require.NoError(t, err)
	assert.Equal(t, 1, d.InheritedMethodCount) // base not yet registered

	base := &Module{Descriptors: []*Descriptor{
		{Name: "IBase", Methods: []MethodSig{{Name: "b1", NumArgs: 0}, {Name: "b2", NumArgs: 0}}},
	}}
	require.NoError(t, s.Register(self, blobOf(t, base)))

	d, err = s.Lookup(self, "IDerived")
	require.NoError(t, err)
	assert.Equal(t, 3, d.InheritedMethodCount) // now resolved: 1 + 2
}

func TestConstructorRoundTrip(t *testing.T) {
	s := New(nil)
	self := newSelf()
	mod := &Module{Descriptors: []*Descriptor{{Name: "IFactory"}}}
	require.NoError(t, s.Register(self, blobOf(t, mod)))

	_, ok, err := s.GetConstructor(self, "IFactory")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetConstructor(self, "IFactory", "ctor-object"))
	ctor, ok, err := s.GetConstructor(self, "IFactory")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ctor-object", ctor)
}

func TestSetConstructorUnknownFails(t *testing.T) {
	s := New(nil)
	self := newSelf()
	err := s.SetConstructor(self, "IMissing", "x")
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestRemove(t *testing.T) {
	s := New(nil)
	self := newSelf()
	mod := &Module{Descriptors: []*Descriptor{{Name: "IThing"}}}
	require.NoError(t, s.Register(self, blobOf(t, mod)))

	require.NoError(t, s.Remove(self, "IThing"))
	_, err := s.Lookup(self, "IThing")
	require.Error(t, err)

	err = s.Remove(self, "IThing")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}
