// Package crypt implements the encrypted payload envelope.
//
// Layout: a 16 byte header, a 16 byte salt, a 12 byte IV and the AES-256-GCM
// ciphertext. Header bytes: 0-3 magic "OSVC", 4 version, 5 flags, 6-9
// plaintext length (big endian), 10-13 SHA-256 prefix of salt+iv+ciphertext,
// 14-15 CRC16-CCITT of bytes 0-13.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	HeaderSize = 16
	SaltSize   = 16
	IVSize     = 12
	TagSize    = 16
	KeySize    = 32
	Iterations = 100000

	Version = 0x01

	flagCompressed = 1 << 4
	algoShift      = 5
	algoAESGCM     = 0
)

// MinSize is the smallest buffer that can hold an envelope.
const MinSize = HeaderSize + IVSize + 1 + TagSize

var magic = []byte("OSVC")

var (
	ErrNotEncrypted = errors.New("data is not encrypted")
	ErrIntegrity    = errors.New("encrypted data failed integrity check")
	ErrNoPassword   = errors.New("password is required")
)

type Header struct {
	Version     byte
	Compressed  bool
	Algorithm   byte
	PlainLength uint32
	HashPrefix  [4]byte
	CRC         uint16
}

// IsEncrypted reports whether data starts with the envelope magic and is
// long enough to be one.
func IsEncrypted(data []byte) bool {
	return len(data) >= MinSize && bytes.Equal(data[:len(magic)], magic)
}

func ParseHeader(data []byte) (*Header, error) {
	if !IsEncrypted(data) {
		return nil, ErrNotEncrypted
	}

	h := &Header{
		Version:     data[4],
		Compressed:  data[5]&flagCompressed != 0,
		Algorithm:   data[5] >> algoShift,
		PlainLength: binary.BigEndian.Uint32(data[6:10]),
		CRC:         binary.BigEndian.Uint16(data[14:16]),
	}
	copy(h.HashPrefix[:], data[10:14])

	if CRC16(data[:14]) != h.CRC {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrIntegrity)
	}
	if h.Version != Version {
		return nil, fmt.Errorf("unsupported envelope version %d", h.Version)
	}
	if h.Algorithm != algoAESGCM {
		return nil, fmt.Errorf("unsupported envelope algorithm %d", h.Algorithm)
	}
	return h, nil
}

type Cipher struct {
	password []byte
}

func New(password string) (*Cipher, error) {
	if password == "" {
		return nil, ErrNoPassword
	}
	return &Cipher{password: []byte(password)}, nil
}

func (c *Cipher) key(salt []byte) []byte {
	return pbkdf2.Key(c.password, salt, Iterations, KeySize, sha256.New)
}

func (c *Cipher) gcm(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (c *Cipher) Encrypt(plain []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	iv := make([]byte, IVSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	aead, err := c.gcm(salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+SaltSize+IVSize+len(plain)+TagSize)
	out = append(out, salt...)
	out = append(out, iv...)
	out = aead.Seal(out, iv, plain, nil)

	sum := sha256.Sum256(out[HeaderSize:])
	copy(out[0:4], magic)
	out[4] = Version
	out[5] = algoAESGCM << algoShift
	binary.BigEndian.PutUint32(out[6:10], uint32(len(plain)))
	copy(out[10:14], sum[:4])
	binary.BigEndian.PutUint16(out[14:16], CRC16(out[:14]))

	return out, nil
}

func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if len(data) < HeaderSize+SaltSize+IVSize+TagSize {
		return nil, fmt.Errorf("%w: payload too short", ErrIntegrity)
	}

	body := data[HeaderSize:]
	sum := sha256.Sum256(body)
	if !bytes.Equal(sum[:4], h.HashPrefix[:]) {
		return nil, fmt.Errorf("%w: content hash mismatch", ErrIntegrity)
	}

	salt := body[:SaltSize]
	iv := body[SaltSize : SaltSize+IVSize]
	aead, err := c.gcm(salt)
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, iv, body[SaltSize+IVSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if uint32(len(plain)) != h.PlainLength {
		return nil, fmt.Errorf("%w: length mismatch", ErrIntegrity)
	}
	return plain, nil
}

// CRC16 is CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
