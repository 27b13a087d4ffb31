package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	first, err := GenerateSecret()
	require.NoError(t, err)
	second, err := GenerateSecret()
	require.NoError(t, err)

	// 48 bytes of randomness, base64url without padding
	assert.Len(t, first, 64)
	assert.NotEqual(t, first, second)
}

func TestHashAndVerifySecret(t *testing.T) {
	secret, err := GenerateSecret()
	require.NoError(t, err)

	hash, err := HashSecret(secret)
	require.NoError(t, err)
	assert.NotContains(t, hash, secret)

	assert.True(t, VerifySecret(hash, secret))
	assert.False(t, VerifySecret(hash, secret[:len(secret)-1]+"x"))
	assert.False(t, VerifySecret(hash, ""))
}

func TestDigestTokenDeterministic(t *testing.T) {
	token, err := GenerateSecret()
	require.NoError(t, err)

	assert.Equal(t, DigestToken(token), DigestToken(token))
	assert.NotEqual(t, DigestToken(token), DigestToken(token+"x"))
	assert.NotEqual(t, token, DigestToken(token))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid", "Bearer abc123", "abc123", true},
		{"case insensitive scheme", "bearer abc123", "abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"no token", "Bearer", "", false},
		{"extra parts", "Bearer a b", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			token, err := BearerToken(r)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.want, token)
			} else {
				assert.ErrorIs(t, err, ErrMissingToken)
			}
		})
	}
}

func TestSplitKeyToken(t *testing.T) {
	id, secret, err := SplitKeyToken("6ba7b810-9dad-11d1-80b4-00c04fd430c8;s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", id)
	assert.Equal(t, "s3cr3t", secret)

	_, _, err = SplitKeyToken("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.ErrorIs(t, err, ErrMissingSemicolon)

	_, _, err = SplitKeyToken("not-a-uuid;secret")
	assert.ErrorIs(t, err, ErrInvalidKeyID)

	// secret may itself contain semicolons; split on the first only
	_, secret, err = SplitKeyToken("6ba7b810-9dad-11d1-80b4-00c04fd430c8;a;b")
	require.NoError(t, err)
	assert.Equal(t, "a;b", secret)
}
