package deep

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEqual_NumbersAcrossTypes(t *testing.T) {
	assert.True(t, Equal(5, 5.0))
	assert.True(t, Equal(int64(5), json.Number("5")))
	assert.False(t, Equal(5, 6))
	assert.False(t, Equal(5, "5"))
}

func TestEqual_NaN(t *testing.T) {
	assert.True(t, Equal(math.NaN(), math.NaN()))
	assert.True(t, Equal(float32(math.NaN()), math.NaN()))
	assert.False(t, Equal(math.NaN(), 1.0))
	assert.True(t, Equal(map[string]any{"x": math.NaN()}, map[string]any{"x": math.NaN()}))
}

func TestEqual_NestedShapes(t *testing.T) {
	a := map[string]any{"list": []any{1, "x", map[string]any{"ok": true}}}
	b := map[string]any{"list": []any{1.0, "x", map[string]any{"ok": true}}}
	assert.True(t, Equal(a, b))

	b["list"].([]any)[2].(map[string]any)["ok"] = false
	assert.False(t, Equal(a, b))
}

func TestEqual_Nil(t *testing.T) {
	var m map[string]any
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal(nil, m))
	assert.False(t, Equal(nil, 0))
	assert.False(t, Equal("", nil))
}

func TestEqual_Times(t *testing.T) {
	now := time.Now()
	assert.True(t, Equal(now, now.UTC()))
	assert.False(t, Equal(now, now.Add(time.Second)))
}

func TestCloneMap_IsIndependent(t *testing.T) {
	src := map[string]any{
		"tags":  []any{"a", "b"},
		"inner": map[string]any{"n": 1},
		"ints":  []int{1, 2},
	}
	cp := CloneMap(src)

	cp["tags"].([]any)[0] = "z"
	cp["inner"].(map[string]any)["n"] = 2
	cp["ints"].([]int)[0] = 9

	assert.Equal(t, "a", src["tags"].([]any)[0])
	assert.Equal(t, 1, src["inner"].(map[string]any)["n"])
	assert.Equal(t, 1, src["ints"].([]int)[0])
	assert.Nil(t, CloneMap(nil))
}

func TestClone_PointersAndStructs(t *testing.T) {
	type point struct {
		X, Y int
		Tags []string
	}
	p := &point{X: 1, Y: 2, Tags: []string{"a"}}
	cp := Clone(p)

	cp.X = 10
	cp.Tags[0] = "b"
	assert.Equal(t, 1, p.X)
	assert.Equal(t, "a", p.Tags[0])

	var nothing any
	assert.Nil(t, Clone(nothing))
}
