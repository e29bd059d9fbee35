package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

// Token layout: version(1) || timestamp(8, big-endian) || iv(16) ||
// ciphertext(16n) || hmac-sha256(32) over everything before the tag.
// The 32-byte key splits into a signing half and an encryption half.

const tokenVersion = 0x80

const minTokenLen = 1 + 8 + aes.BlockSize + aes.BlockSize + sha256.Size

var (
	ErrKeyLength      = errors.New("secrets: key must be exactly 32 bytes")
	ErrTokenFormat    = errors.New("secrets: malformed or unsupported token")
	ErrAuthentication = errors.New("secrets: token authentication failed")
)

// DecodeKey parses a base64 key, accepting urlsafe or standard alphabets.
func DecodeKey(s string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// Decrypt verifies and decrypts a base64 token. The tag is checked in
// constant time before any ciphertext is touched.
func Decrypt(token string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrKeyLength
	}
	raw, err := decodeToken(token)
	if err != nil {
		return "", ErrTokenFormat
	}
	if len(raw) < minTokenLen || raw[0] != tokenVersion {
		return "", ErrTokenFormat
	}
	signKey, encKey := key[:16], key[16:]
	body, tag := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	mac := hmac.New(sha256.New, signKey)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), tag) {
		return "", ErrAuthentication
	}
	iv := body[9 : 9+aes.BlockSize]
	ct := body[9+aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return "", ErrTokenFormat
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	pt, err = unpad(pt)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Encrypt produces a token Decrypt accepts. Used for provisioning tenants.
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != 32 {
		return "", ErrKeyLength
	}
	signKey, encKey := key[:16], key[16:]
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return "", err
	}
	padded := pad([]byte(plaintext))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	body := make([]byte, 0, 9+len(iv)+len(ct))
	body = append(body, tokenVersion)
	body = binary.BigEndian.AppendUint64(body, uint64(time.Now().Unix()))
	body = append(body, iv...)
	body = append(body, ct...)
	mac := hmac.New(sha256.New, signKey)
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(body)), nil
}

func decodeToken(token string) ([]byte, error) {
	if b, err := base64.URLEncoding.DecodeString(token); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(token)
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	for i := 0; i < n; i++ {
		b = append(b, byte(n))
	}
	return b
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrTokenFormat
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, ErrTokenFormat
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, ErrTokenFormat
		}
	}
	return b[:len(b)-n], nil
}
