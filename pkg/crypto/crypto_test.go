package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACSigner_SignVerify(t *testing.T) {
	s, err := NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"), "incident")
	require.NoError(t, err)

	sig, err := s.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Len(t, sig, 64)

	assert.True(t, s.Verify([]byte("payload"), sig))
	assert.False(t, s.Verify([]byte("tampered"), sig))
	assert.False(t, s.Verify([]byte("payload"), "not-hex"))
}

func TestHMACSigner_EmptyKeyRejected(t *testing.T) {
	_, err := NewHMACSigner(nil, "x")
	assert.Error(t, err)
}

func TestKeyring_DeriveDeterministic(t *testing.T) {
	root := bytes.Repeat([]byte{0x42}, KeySize)
	k1, err := NewKeyring(root)
	require.NoError(t, err)
	k2, err := NewKeyring(root)
	require.NoError(t, err)

	a, err := k1.Derive("incident-log")
	require.NoError(t, err)
	b, err := k2.Derive("incident-log")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Different purposes yield unrelated keys.
	c, err := k1.Derive("operator-assertion")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestKeyring_BadRootLength(t *testing.T) {
	_, err := NewKeyring([]byte("short"))
	assert.Error(t, err)
}

func TestKeyring_DeriveSigner(t *testing.T) {
	root := bytes.Repeat([]byte{0x07}, KeySize)
	k, err := NewKeyring(root)
	require.NoError(t, err)

	s1, err := k.DeriveSigner("incident-log")
	require.NoError(t, err)
	s2, err := k.DeriveSigner("incident-log")
	require.NoError(t, err)

	sig, err := s1.Sign([]byte("record"))
	require.NoError(t, err)
	assert.True(t, s2.Verify([]byte("record"), sig))
	assert.Equal(t, "incident-log", s1.KeyID())
}

func TestCanonicalHasher_FieldOrderIndependent(t *testing.T) {
	h := NewCanonicalHasher()
	a, err := h.Hash(map[string]interface{}{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := h.Hash(map[string]interface{}{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
