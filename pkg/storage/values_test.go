package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_JSON(t *testing.T) {
	var payload struct {
		Due *Date `json:"due"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"due":"2024-05-01"}`), &payload))
	require.NotNil(t, payload.Due)
	assert.Equal(t, "2024-05-01", payload.Due.String())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2024-05-01"}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"due":"05/01/2024"}`), &payload))
	assert.Error(t, json.Unmarshal([]byte(`{"due":20240501}`), &payload))
}

func TestDate_Scan(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		want string
		err  bool
	}{
		{name: "time", src: time.Date(2023, 12, 31, 15, 4, 5, 0, time.UTC), want: "2023-12-31"},
		{name: "bytes", src: []byte("2023-01-02"), want: "2023-01-02"},
		{name: "timestamp string", src: "2023-01-02T00:00:00Z", want: "2023-01-02"},
		{name: "garbage", src: "yesterday", err: true},
		{name: "int", src: int64(5), err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Date
			err := d.Scan(tt.src)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())

			v, err := d.Value()
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestJSONObject_ValueAndScan(t *testing.T) {
	var nilObj JSONObject
	v, err := nilObj.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	obj := JSONObject{"pages": float64(3), "notes": nil}
	v, err = obj.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"pages":3,"notes":null}`, v.(string))

	var scanned JSONObject
	require.NoError(t, scanned.Scan([]byte(`{"a":{"b":1}}`)))
	assert.Equal(t, float64(1), scanned["a"].(map[string]interface{})["b"])

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	require.NoError(t, scanned.Scan("null"))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(`[1,2]`))
	assert.Error(t, scanned.Scan(42))
}

func TestJSONObject_Accessors(t *testing.T) {
	obj := JSONObject{
		"name":    "Website redesign",
		"blank":   "  ",
		"budget":  float64(1500),
		"budget2": "2500.50",
		"bad":     "lots",
	}

	name, ok := obj.String("name")
	assert.True(t, ok)
	assert.Equal(t, "Website redesign", name)

	_, ok = obj.String("blank")
	assert.False(t, ok)
	_, ok = obj.String("budget")
	assert.False(t, ok)

	f, ok := obj.Float("budget")
	assert.True(t, ok)
	assert.Equal(t, 1500.0, f)

	f, ok = obj.Float("budget2")
	assert.True(t, ok)
	assert.Equal(t, 2500.5, f)

	_, ok = obj.Float("bad")
	assert.False(t, ok)
	_, ok = obj.Float("missing")
	assert.False(t, ok)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains(TaskStatuses, "review"))
	assert.False(t, Contains(TaskStatuses, "blocked"))
}
