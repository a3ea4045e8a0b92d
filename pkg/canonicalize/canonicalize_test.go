package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	out, err := Canonicalize(map[string]interface{}{
		"zeta":  1,
		"alpha": 2,
		"mid":   map[string]interface{}{"b": true, "a": false},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":false,"b":true},"zeta":1}`, string(out))
}

func TestCanonicalizeNoHTMLEscaping(t *testing.T) {
	out, err := Canonicalize(map[string]interface{}{"cmd": "a < b && c > d"})
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"a < b && c > d"}`, string(out))
}

func TestCanonicalizePreservesNonASCII(t *testing.T) {
	out, err := Canonicalize(map[string]interface{}{"title": "práctica"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "práctica")
}

func TestCanonicalizeStructRespectsTags(t *testing.T) {
	type payload struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	out, err := Canonicalize(payload{ID: "x", Title: "y"})
	require.NoError(t, err)
	assert.Equal(t, `{"id":"x","title":"y"}`, string(out))
}

func TestPayloadChecksumStable(t *testing.T) {
	a, err := PayloadChecksum(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := PayloadChecksum(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

// Canonicalization must be idempotent: canonicalize(parse(canonicalize(x)))
// equals canonicalize(x) for arbitrary JSON-compatible values.
func TestCanonicalizeIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	leaf := gen.OneGenOf(
		gen.AlphaString().Map(func(s string) interface{} { return s }),
		gen.Int32().Map(func(i int32) interface{} { return float64(i) }),
		gen.Bool().Map(func(b bool) interface{} { return b }),
		gen.Const(interface{}(nil)),
	)
	obj := gen.MapOf(gen.Identifier(), leaf).Map(func(m map[string]interface{}) interface{} { return m })

	properties := gopter.NewProperties(parameters)
	properties.Property("round-trip is a fixed point", prop.ForAll(
		func(v interface{}) bool {
			first, err := Canonicalize(v)
			if err != nil {
				return false
			}
			var parsed interface{}
			if err := json.Unmarshal(first, &parsed); err != nil {
				return false
			}
			second, err := Canonicalize(parsed)
			if err != nil {
				return false
			}
			return string(first) == string(second)
		},
		obj,
	))
	properties.TestingRun(t)
}
