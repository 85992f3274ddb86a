package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{
		"zebra": "z",
		"apple": "a",
		"mango": int64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":"a","mango":3,"zebra":"z"}`, string(got))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+1F600 encodes to surrogates 0xD83D 0xDE00 which sort before U+FF61
	// in UTF-16 even though the UTF-8 bytes sort after.
	got, err := MarshalCanonical(map[string]any{
		"\uff61":     "halfwidth",
		"\U0001F600": "emoji",
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":\"emoji\",\"\uff61\":\"halfwidth\"}", string(got))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(got))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	got, err := MarshalCanonical("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(got))

	// A literal backslash followed by "u2028" must stay escaped.
	got, err = MarshalCanonical(`x\u2028`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028"`, string(got))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	got, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalCanonicalRejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(1.5)
	assert.Error(t, err)

	_, err = MarshalCanonical(map[string]any{"x": nil})
	assert.Error(t, err)
}

func TestMarshalCanonicalDomainTypes(t *testing.T) {
	got, err := MarshalCanonical([]any{Plan, ProcessID(2), OutcomeError, ErrModelUnavailable, []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, `[2,2,"error","E010",["a"]]`, string(got))
}
