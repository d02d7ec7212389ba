package crypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestEncryptDecrypt(t *testing.T) {
	c, err := New("correct horse")
	require.NoError(t, err)

	plain := []byte("# notes\n\nsome markdown")
	enc, err := c.Encrypt(plain)
	require.NoError(t, err)

	assert.True(t, IsEncrypted(enc))
	assert.False(t, IsEncrypted(plain))
	assert.Len(t, enc, HeaderSize+SaltSize+IVSize+len(plain)+TagSize)

	h, err := ParseHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, byte(Version), h.Version)
	assert.Equal(t, uint32(len(plain)), h.PlainLength)
	assert.False(t, h.Compressed)

	got, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestEncryptEmpty(t *testing.T) {
	c, err := New("pw")
	require.NoError(t, err)

	enc, err := c.Encrypt(nil)
	require.NoError(t, err)

	got, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := New("pw")
	require.NoError(t, err)
	enc, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	t.Run("ciphertext", func(t *testing.T) {
		bad := append([]byte(nil), enc...)
		bad[len(bad)-1] ^= 0xFF
		_, err := c.Decrypt(bad)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("header", func(t *testing.T) {
		bad := append([]byte(nil), enc...)
		bad[7] ^= 0x01
		_, err := c.Decrypt(bad)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("wrong password", func(t *testing.T) {
		other, err := New("other")
		require.NoError(t, err)
		_, err = other.Decrypt(enc)
		assert.ErrorIs(t, err, ErrIntegrity)
	})

	t.Run("plain data", func(t *testing.T) {
		_, err := c.Decrypt([]byte("hello"))
		assert.ErrorIs(t, err, ErrNotEncrypted)
	})
}

func TestNewRequiresPassword(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrNoPassword)
}
