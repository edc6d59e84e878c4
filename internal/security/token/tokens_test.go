package tokens

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	require.Len(t, raw, 32)
}

func TestGenerateSecret(t *testing.T) {
	s, err := GenerateSecret("whsec_", 32)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(s, "whsec_"))
	require.Len(t, s, len("whsec_")+43)
}
