package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_IgnoresFieldOrder(t *testing.T) {
	a := &Descriptor{Entity: "Tag", Version: 1, Fields: []Field{
		{Name: "id", Type: TypeString},
		{Name: "name", Type: TypeString},
	}}
	b := &Descriptor{Entity: "Tag", Version: 1, Fields: []Field{
		{Name: "name", Type: TypeString},
		{Name: "id", Type: TypeString},
	}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_ChangesWithShape(t *testing.T) {
	base := Builtin(EntityTag)
	changed := base.Clone()
	changed.Fields = append(changed.Fields, Field{Name: "color", Type: TypeString, Optional: true})

	bumped := base.Clone()
	bumped.Version++

	assert.NotEqual(t, base.Fingerprint(), changed.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), bumped.Fingerprint())
	assert.Equal(t, uint64(0), (*Descriptor)(nil).Fingerprint())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		desc    *Descriptor
		wantErr bool
	}{
		{name: "nil", desc: nil, wantErr: true},
		{name: "no entity", desc: &Descriptor{}, wantErr: true},
		{name: "empty field name", desc: &Descriptor{Entity: "X", Fields: []Field{{Name: ""}}}, wantErr: true},
		{name: "duplicate", desc: &Descriptor{Entity: "X", Fields: []Field{{Name: "a"}, {Name: "a"}}}, wantErr: true},
		{name: "ok", desc: &Descriptor{Entity: "X", Fields: []Field{{Name: "a"}, {Name: "b"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuiltin_AllValid(t *testing.T) {
	for _, name := range Entities() {
		d := Builtin(name)
		require.NotNil(t, d, name)
		assert.NoError(t, d.Validate(), name)
		assert.Equal(t, name, d.Entity)
	}
	assert.Nil(t, Builtin("Nope"))
}

func TestBuiltin_ReturnsCopy(t *testing.T) {
	d := Builtin(EntityTag)
	d.Fields[0].Name = "mutated"

	assert.True(t, Builtin(EntityTag).Has("id"))
}

func TestAdvancedExtendsPerformance(t *testing.T) {
	basic := Builtin(EntityPerformanceSample)
	adv := Builtin(EntityAdvancedPerformanceSample)

	for _, f := range basic.Fields {
		got, ok := adv.Field(f.Name)
		require.True(t, ok, f.Name)
		assert.Equal(t, f, got)
	}
	assert.True(t, adv.Has("heaviestStackTrace"))
	assert.False(t, basic.Has("heaviestStackTrace"))
}
