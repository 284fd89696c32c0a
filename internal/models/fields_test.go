package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsUnmarshalKeepsOrder(t *testing.T) {
	var f Fields
	err := json.Unmarshal([]byte(`{"zeta":"1","alpha":2,"mid":true,"none":null}`), &f)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid", "none"}, f.Names())
	v, ok := f.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, json.Number("2"), v)
}

func TestFieldsRoundTripPreservesOrder(t *testing.T) {
	in := `{"b":"x","a":{"second":"2","first":"1"},"c":[1,"two"]}`
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(in), &f))

	out, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, in, string(out))
}

func TestFieldsRejectsNonObject(t *testing.T) {
	var f Fields
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &f))
}

func TestFieldsFlatten(t *testing.T) {
	var f Fields
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": {"first": "Ada", "last": "Lovelace"},
		"email": "ada@example.com",
		"topics": ["math", "engines"],
		"age": 36,
		"subscribed": false
	}`), &f))

	flat := f.Flatten()
	assert.Equal(t, []string{"name_first", "name_last", "email", "topics", "age", "subscribed"}, flat.Names())

	topics, _ := flat.Get("topics")
	assert.Equal(t, "math, engines", topics)
	age, _ := flat.Get("age")
	assert.Equal(t, "36", age)
	subscribed, _ := flat.Get("subscribed")
	assert.Equal(t, "false", subscribed)
}

func TestFieldsScan(t *testing.T) {
	var f Fields
	require.NoError(t, f.Scan([]byte(`{"k":"v"}`)))
	assert.Len(t, f, 1)

	require.NoError(t, f.Scan(nil))
	assert.Nil(t, f)

	assert.Error(t, f.Scan(42))
}
