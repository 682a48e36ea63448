package value

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse([]byte(`{"name":"ada","tags":["x","y"],"age":36,"admin":false,"nick":null}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("ada"), obj["name"])
	assert.Equal(t, Array{String("x"), String("y")}, obj["tags"])
	assert.Equal(t, Int(36), obj["age"])
	assert.Equal(t, Bool(false), obj["admin"])
	assert.Equal(t, Null{}, obj["nick"])
}

func TestParseFloats(t *testing.T) {
	v, err := Parse([]byte(`{"a":1.5,"b":2e3,"c":[1E2],"d":7}`))
	require.NoError(t, err)
	obj := v.(Object)
	assert.Equal(t, Float(1.5), obj["a"])
	assert.Equal(t, Float(2000), obj["b"])
	assert.Equal(t, Array{Float(100)}, obj["c"])
	assert.Equal(t, Int(7), obj["d"])
	assert.Equal(t, "float", Kind(obj["a"]))

	_, err = Parse([]byte(`1e400`))
	assert.Error(t, err)
}

func TestFromAnyRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := FromAny(f)
		assert.Error(t, err)
	}
	v, err := FromAny(float32(0.5))
	require.NoError(t, err)
	assert.Equal(t, Float(0.5), v)
}

func TestEqualIntegralFloat(t *testing.T) {
	assert.True(t, Equal(Float(2), Int(2)))
	assert.False(t, Equal(Float(2.5), Int(2)))
}

func TestParseRejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`1 2`))
	assert.Error(t, err)
}

func TestParseLargeIntegers(t *testing.T) {
	v, err := Parse([]byte(`9007199254740993`))
	require.NoError(t, err)
	assert.Equal(t, Int(9007199254740993), v)

	_, err = Parse([]byte(`9223372036854775808`))
	assert.Error(t, err)
}

func TestFromAnyYAMLShapes(t *testing.T) {
	v, err := FromAny(map[string]any{
		"n":    7,
		"list": []any{"a", true, nil},
	})
	require.NoError(t, err)
	assert.Equal(t, Object{
		"n":    Int(7),
		"list": Array{String("a"), Bool(true), Null{}},
	}, v)

	_, err = FromAny(map[string]any{"f": 1.25})
	assert.Error(t, err)

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestObjectJSONRoundTrip(t *testing.T) {
	obj := Object{"b": Int(2), "a": Array{String("x")}}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x"],"b":2}`, string(data))

	var decoded Object
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, Equal(obj, decoded))
}

func TestObjectUnmarshalRejectsNonObject(t *testing.T) {
	var obj Object
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &obj))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Object{"a": Int(1), "b": Int(2)}, Object{"b": Int(2), "a": Int(1)}))
	assert.False(t, Equal(Int(1), String("1")))
	assert.True(t, Equal(nil, Null{}))
}

func TestKindAndIsNull(t *testing.T) {
	assert.Equal(t, "object", Kind(Object{}))
	assert.Equal(t, "array", Kind(Array{}))
	assert.Equal(t, "null", Kind(nil))
	assert.True(t, IsNull(Null{}))
	assert.True(t, IsNull(nil))
	assert.False(t, IsNull(String("")))
}
