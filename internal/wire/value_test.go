package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMap_PreservesInsertionOrder(t *testing.T) {
	m := NewMap().
		Set("b", Int(1)).
		Set("a", Int(2)).
		Set("c", Int(3))
	m.Set("b", Int(10))

	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())
	v, ok := m.Get("b")
	assert.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(10), i)

	m.Delete("a")
	assert.Equal(t, []string{"b", "c"}, m.Keys())
	assert.Equal(t, 2, m.Len())
}

func TestMap_NilSafe(t *testing.T) {
	var m *Map
	_, ok := m.Get("x")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.Nil(t, m.Keys())
	assert.True(t, m.Equal(NewMap()))
}

func TestValue_Coercions(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)

	tests := []struct {
		name  string
		value Value
		check func(t *testing.T, v Value)
	}{
		{"int as float", Int(3), func(t *testing.T, v Value) {
			f, ok := v.AsFloat()
			assert.True(t, ok)
			assert.Equal(t, 3.0, f)
		}},
		{"float as int", Float(2.9), func(t *testing.T, v Value) {
			i, ok := v.AsInt()
			assert.True(t, ok)
			assert.Equal(t, int64(2), i)
		}},
		{"int as bool", Int(0), func(t *testing.T, v Value) {
			b, ok := v.AsBool()
			assert.True(t, ok)
			assert.False(t, b)
		}},
		{"time round trip", Time(ts), func(t *testing.T, v Value) {
			got, ok := v.AsTime()
			assert.True(t, ok)
			assert.True(t, ts.Equal(got))
		}},
		{"rfc3339 string as time", String(ts.Format(time.RFC3339Nano)), func(t *testing.T, v Value) {
			got, ok := v.AsTime()
			assert.True(t, ok)
			assert.True(t, ts.Equal(got))
		}},
		{"numeric string as int", String("42"), func(t *testing.T, v Value) {
			i, ok := v.AsInt()
			assert.True(t, ok)
			assert.Equal(t, int64(42), i)
		}},
		{"string not a list", String("x"), func(t *testing.T, v Value) {
			_, ok := v.AsList()
			assert.False(t, ok)
		}},
		{"null has no scalar", Null(), func(t *testing.T, v Value) {
			_, ok := v.AsString()
			assert.False(t, ok)
			assert.True(t, v.IsNull())
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.value)
		})
	}
}

func TestStringMap(t *testing.T) {
	m := FromStringMap(map[string]string{"z": "1", "a": "2"})
	assert.Equal(t, []string{"a", "z"}, m.Keys())
	assert.Equal(t, map[string]string{"z": "1", "a": "2"}, m.StringMap())
}

func TestEventKinds(t *testing.T) {
	kinds := EventKinds()
	assert.Len(t, kinds, 11)
	assert.Equal(t, EventCreateRecording, kinds[0])
	assert.Equal(t, EventAddTag, kinds[10])
	assert.False(t, EventUnknown.Valid())
	assert.Equal(t, "StopProfiling", CommandStopProfiling.String())
	assert.Equal(t, "Command(9)", CommandType(9).String())
}
