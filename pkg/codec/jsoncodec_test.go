package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONPayloadKeepsNumbers(t *testing.T) {
	var v any
	require.NoError(t, JSONPayload.Unmarshal([]byte(`{"id": 9007199254740993}`), &v))
	m := v.(map[string]any)
	assert.Equal(t, json.Number("9007199254740993"), m["id"])

	out, err := JSONPayload.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"id":9007199254740993}`, string(out))
}

func TestUnmarshalRejectsTrailingContent(t *testing.T) {
	var v any
	err := JSONPayload.Unmarshal([]byte(`{"a":1} {"b":2}`), &v)
	require.Error(t, err)

	type doc struct {
		A int `json:"a"`
	}
	var d doc
	require.Error(t, JSONStrict.Unmarshal([]byte(`{"a":1,"b":2}`), &d))
}

func TestMarshalDoesNotEscapeHTML(t *testing.T) {
	out, err := JSONStrict.Marshal(map[string]string{"u": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"u":"a<b>&c"}`, string(out))
}

func TestIsJSON(t *testing.T) {
	assert.True(t, IsJSON("application/json"))
	assert.True(t, IsJSON("application/json; charset=utf-8"))
	assert.True(t, IsJSON("application/vnd.github+json"))
	assert.False(t, IsJSON("text/plain"))
	assert.False(t, IsJSON(""))
}

func TestCompact(t *testing.T) {
	out, err := Compact([]byte("\n { \"repo\" : \"demo\" }\n"))
	require.NoError(t, err)
	assert.Equal(t, `{"repo":"demo"}`, string(out))

	_, err = Compact([]byte(`{"repo":`))
	require.Error(t, err)
}
