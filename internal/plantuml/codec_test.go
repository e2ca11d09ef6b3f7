package plantuml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDescription = "@startuml\nAlice -> Bob: hello\nBob --> Alice: hi\n@enduml"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	token, err := Encode(sampleDescription)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, sampleDescription, decoded)
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(sampleDescription)
	require.NoError(t, err)
	b, err := Encode(sampleDescription)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeTokenIsURLSafe(t *testing.T) {
	long := "@startuml\n" + strings.Repeat("A -> B: msg\n", 200) + "@enduml"
	token, err := Encode(long)
	require.NoError(t, err)

	for _, r := range token {
		assert.Contains(t, alphabet, string(r))
	}
}

func TestEncodeRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"no markers", "no-markers-here"},
		{"missing end", "@startuml\nA -> B"},
		{"missing start", "A -> B\n@enduml"},
		{"empty body", "@startuml\n   \n@enduml"},
		{"empty string", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Encode(tc.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDescription)
		})
	}
}

func TestDecodeRejectsForeignCharacters(t *testing.T) {
	_, err := Decode("abc$def")
	require.Error(t, err)
}

func TestURLFor(t *testing.T) {
	assert.Equal(t,
		"https://uml.example.com/svg/T0k3n",
		URLFor("https://uml.example.com", "T0k3n", FormatVector))
	assert.Equal(t,
		"https://uml.example.com/png/T0k3n",
		URLFor("https://uml.example.com/", "T0k3n", FormatRaster))
}
