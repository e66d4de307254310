package signer

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqwallet/internal/keys"
)

func newTestKeyMaterial(t *testing.T, level keys.SecurityLevel) *keys.KeyMaterial {
	t.Helper()

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + int(level))
	}

	km, err := keys.NewKeyMaterial("m/44'/60'/0'/0/0", priv, seed, level)
	require.NoError(t, err)
	return km
}

func testDigest(tag byte) [32]byte {
	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte{tag}))
	return digest
}

func TestSignVerifyRoundTrip(t *testing.T) {
	levels := []keys.SecurityLevel{keys.Level44, keys.Level65, keys.Level87}

	for _, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			km := newTestKeyMaterial(t, level)
			s, err := NewDualSigner(km, nil)
			require.NoError(t, err)

			digest := testDigest(0x01)
			sig, err := s.Sign(digest)
			require.NoError(t, err)
			require.NotEmpty(t, sig)

			assert.NoError(t, s.VerifyLocal(digest, sig))
		})
	}
}

func TestSignatureEncoding(t *testing.T) {
	km := newTestKeyMaterial(t, keys.Level44)
	s, err := NewDualSigner(km, nil)
	require.NoError(t, err)

	sig, err := s.Sign(testDigest(0x02))
	require.NoError(t, err)

	decoded, err := DecodeSignature(sig)
	require.NoError(t, err)

	assert.Len(t, decoded.ClassicalSig, 65)
	assert.Len(t, decoded.PQSig, keys.Level44.SignatureSize())
	assert.Equal(t, km.PQPublicKey(), decoded.PQPublicKey)
	assert.Equal(t, km.ClassicalAddress, decoded.ClassicalOwner)

	// v 必须落在合约期望的 {27, 28}
	v := decoded.ClassicalSig[64]
	assert.True(t, v == 27 || v == 28, "v=%d", v)
}

func TestVerifyLocalMutatedDigest(t *testing.T) {
	km := newTestKeyMaterial(t, keys.Level44)
	s, err := NewDualSigner(km, nil)
	require.NoError(t, err)

	sig, err := s.Sign(testDigest(0x03))
	require.NoError(t, err)

	// 摘要变了签名必须失效
	assert.Error(t, s.VerifyLocal(testDigest(0x04), sig))
}

func TestVerifyLocalForeignKeys(t *testing.T) {
	km := newTestKeyMaterial(t, keys.Level44)
	s, err := NewDualSigner(km, nil)
	require.NoError(t, err)

	other := newTestKeyMaterial(t, keys.Level44)
	otherSigner, err := NewDualSigner(other, nil)
	require.NoError(t, err)

	digest := testDigest(0x05)
	foreignSig, err := otherSigner.Sign(digest)
	require.NoError(t, err)

	// 他人密钥产出的签名不能通过本签名器的校验
	assert.Error(t, s.VerifyLocal(digest, foreignSig))
}

func TestVerifyLocalTamperedSignature(t *testing.T) {
	km := newTestKeyMaterial(t, keys.Level44)
	s, err := NewDualSigner(km, nil)
	require.NoError(t, err)

	digest := testDigest(0x06)
	sig, err := s.Sign(digest)
	require.NoError(t, err)

	decoded, err := DecodeSignature(sig)
	require.NoError(t, err)

	// 翻转后量子签名中间一个比特后重新编码
	decoded.PQSig[len(decoded.PQSig)/2] ^= 0x01
	tampered, err := signatureArgs.Pack(decoded.ClassicalSig, decoded.PQSig,
		decoded.PQPublicKey, decoded.ClassicalOwner)
	require.NoError(t, err)

	assert.Error(t, s.VerifyLocal(digest, tampered))
}

func TestVerifyLocalGarbage(t *testing.T) {
	km := newTestKeyMaterial(t, keys.Level44)
	s, err := NewDualSigner(km, nil)
	require.NoError(t, err)

	assert.Error(t, s.VerifyLocal(testDigest(0x07), []byte{0x01, 0x02}))
}

func TestNewDualSignerNilKeys(t *testing.T) {
	_, err := NewDualSigner(nil, nil)
	assert.Error(t, err)
}
