package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"zero", 0, "0"},
		{"int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []any{1, 2, 3}, "[1,2,3]"},
		{"string slice", []string{"a", "b"}, `["a","b"]`},
		{"kind", KindResolved, `"resolved"`},
		{"simple object", map[string]any{"a": 1}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := map[string]any{
		"z": map[string]any{
			"b": 1,
			"a": 2,
		},
		"a": 3,
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000 - UTF-16 order differs from UTF-8
	// This is THE critical test for RFC 8785 compliance
	obj := map[string]any{
		"": 1, // UTF-16: 0xE000
		"𐀀":      2, // UTF-16: 0xD800, 0xDC00 (surrogate pair)
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)

	// UTF-16 order: 0xD800 < 0xE000, so 𐀀 comes first
	expected := `{"𐀀":2,"` + "" + `":1}`
	assert.Equal(t, expected, string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"less than", "<script>", `"<script>"`},
		{"greater than", "</script>", `"</script>"`},
		{"ampersand", "a&b", `"a&b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalEscapes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"carriage return", "a\rb", `"a\rb"`},
		{"backspace", "a\bb", `"a\bb"`},
		{"form feed", "a\fb", `"a\fb"`},
		{"control char", "a\x01b", `"ab"`},
		// RFC 8785: U+2028/U+2029 stay literal, unlike encoding/json
		{"line separator", "a b", "\"a b\""},
		{"paragraph separator", "a b", "\"a b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNFCNormalization(t *testing.T) {
	// "e" + COMBINING ACUTE ACCENT must serialize identically to the
	// precomposed "é"
	decomposed := "é"
	precomposed := "é"

	r1, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	r2, err := MarshalCanonical(precomposed)
	require.NoError(t, err)

	assert.Equal(t, string(r2), string(r1))
	assert.Equal(t, `"é"`, string(r1))
}

func TestMarshalCanonicalRejectsFloat(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = MarshalCanonical(map[string]any{"x": float32(1.5)})
	require.Error(t, err)
}

func TestMarshalCanonicalRejectsNull(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null is forbidden")

	_, err = MarshalCanonical(map[string]any{"x": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "x"`)
}

func TestMarshalCanonicalRejectsUnsupportedType(t *testing.T) {
	type opaque struct{ X int }

	_, err := MarshalCanonical(opaque{X: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")

	_, err = MarshalCanonical([]any{1, opaque{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array[1]")
}

func TestEventCanonical(t *testing.T) {
	ev := Event{
		Seq:     7,
		Session: "sess-1",
		Kind:    KindResolved,
		Detail: map[string]any{
			"value": "hello",
			"from":  "ambient",
		},
	}

	result, err := ev.Canonical()
	require.NoError(t, err)

	// Top-level keys sort as detail < kind < seq < session
	expected := `{"detail":{"from":"ambient","value":"hello"},"kind":"resolved","seq":7,"session":"sess-1"}`
	assert.Equal(t, expected, string(result))
}

func TestEventCanonicalNilDetail(t *testing.T) {
	ev := Event{Seq: 1, Session: "sess-1", Kind: KindSessionClosed}

	result, err := ev.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `{"detail":{},"kind":"session_closed","seq":1,"session":"sess-1"}`, string(result))
}

func TestEventCanonicalDeterministic(t *testing.T) {
	ev := Event{
		Seq:     1,
		Session: "sess-1",
		Kind:    KindPropagated,
		Detail: map[string]any{
			"c": 3, "a": 1, "b": 2, "d": 4, "e": 5,
		},
	}

	first, err := ev.Canonical()
	require.NoError(t, err)

	// Map iteration order must never leak into the output
	for i := 0; i < 20; i++ {
		again, err := ev.Canonical()
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again), "iteration %d", i)
	}
}
