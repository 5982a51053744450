package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsInsertionOrder(t *testing.T) {
	d := FromPairs("id", 7, "title", "x", "genres", []string{"drama"})
	d.Set("id", 8)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"id":8,"title":"x","genres":["drama"]}`, string(b))
	assert.Equal(t, []string{"id", "title", "genres"}, d.Keys())
}

func TestUnmarshalKeepsOrder(t *testing.T) {
	var d Document
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"a":{"b":2},"m":null}`), &d))
	assert.Equal(t, []string{"z", "a", "m"}, d.Keys())
	assert.False(t, d.HasPrimaryKey("m"))
	assert.True(t, d.HasPrimaryKey("z"))
}

func TestPrimaryKey(t *testing.T) {
	d := FromPairs("id", 7, "sku", nil)

	pk, ok := d.PrimaryKey("id")
	assert.True(t, ok)
	assert.Equal(t, "7", pk)

	_, ok = d.PrimaryKey("sku")
	assert.False(t, ok)
	_, ok = d.PrimaryKey("missing")
	assert.False(t, ok)

	d.Delete("id")
	assert.Equal(t, 1, d.Len())
}

func TestUnmarshalKeepsLargeNumbersAndNestedValues(t *testing.T) {
	in := `{"id":9007199254740993,"price":12345678901234567890,"title":"café \"x\"","tags":[1,{"b":2}],"meta":{"z":1,"a":2},"ok":true,"gone":null}`
	var d Document
	require.NoError(t, json.Unmarshal([]byte(in), &d))

	pk, ok := d.PrimaryKey("id")
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", pk)
	title, _ := d.Get("title")
	assert.Equal(t, `café "x"`, title)

	out, err := json.Marshal(&d)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Contains(t, string(out), `"id":9007199254740993,"price":12345678901234567890`)
	assert.Contains(t, string(out), `"meta":{"z":1,"a":2}`)
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	var d Document
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &d))
}
