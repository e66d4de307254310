package keys

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMnemonic BIP-39标准测试向量助记词
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestKeyMaterial(t *testing.T, level SecurityLevel) *KeyMaterial {
	t.Helper()

	classicalPriv, err := crypto.GenerateKey()
	require.NoError(t, err)

	seed := make([]byte, level.SeedSize())
	for i := range seed {
		seed[i] = byte(i)
	}

	km, err := NewKeyMaterial("m/44'/60'/0'/0/0", classicalPriv, seed, level)
	require.NoError(t, err)
	return km
}

func TestParseSecurityLevel(t *testing.T) {
	for _, level := range []int{44, 65, 87} {
		sl, err := ParseSecurityLevel(level)
		require.NoError(t, err)
		assert.Equal(t, SecurityLevel(level), sl)
	}

	// 不支持的级别构造期即失败
	for _, level := range []int{0, 2, 3, 5, 100, 128} {
		_, err := ParseSecurityLevel(level)
		assert.Error(t, err, "level=%d", level)
	}
}

func TestSecurityLevel_SizeTable(t *testing.T) {
	tests := []struct {
		level   SecurityLevel
		pubSize int
		sigSize int
	}{
		{Level44, 1312, 2420},
		{Level65, 1952, 3309},
		{Level87, 2592, 4627},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.pubSize, tt.level.PublicKeySize())
		assert.Equal(t, tt.sigSize, tt.level.SignatureSize())
		// 固定尺寸表必须与底层方案一致
		assert.Equal(t, tt.pubSize, tt.level.Scheme().PublicKeySize())
		assert.Equal(t, tt.sigSize, tt.level.Scheme().SignatureSize())
	}
}

func TestKeyMaterial_SignClassical(t *testing.T) {
	km := newTestKeyMaterial(t, Level44)

	digest := crypto.Keccak256([]byte("test message"))
	sig, err := km.SignClassical(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	// 恢复地址应与签名者一致
	recovered, err := RecoverClassical(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, km.ClassicalAddress, recovered)

	// 错误长度的摘要直接拒绝
	_, err = km.SignClassical([]byte("short"))
	assert.Error(t, err)
}

func TestKeyMaterial_SignPQ_AllLevels(t *testing.T) {
	digest := crypto.Keccak256([]byte("pq signing test"))

	for _, level := range []SecurityLevel{Level44, Level65, Level87} {
		km := newTestKeyMaterial(t, level)

		sig, err := km.SignPQ(digest)
		require.NoError(t, err, "level=%d", level)
		assert.Len(t, sig, level.SignatureSize())

		ok, err := VerifyPQ(level, km.PQPublicKey(), digest, sig)
		require.NoError(t, err)
		assert.True(t, ok, "level=%d 签名应通过校验", level)

		// 篡改摘要后校验必须失败
		mutated := crypto.Keccak256([]byte("mutated"))
		ok, err = VerifyPQ(level, km.PQPublicKey(), mutated, sig)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestVerifyPQ_SizeMismatch(t *testing.T) {
	km := newTestKeyMaterial(t, Level44)
	digest := crypto.Keccak256([]byte("msg"))
	sig, err := km.SignPQ(digest)
	require.NoError(t, err)

	// 公钥尺寸与声明级别不符时，校验前即拒绝
	_, err = VerifyPQ(Level65, km.PQPublicKey(), digest, sig)
	assert.Error(t, err)

	// 签名尺寸不符同样拒绝
	_, err = VerifyPQ(Level44, km.PQPublicKey(), digest, sig[:100])
	assert.Error(t, err)
}

func TestKeyMaterial_Salt(t *testing.T) {
	km := newTestKeyMaterial(t, Level44)

	// 盐值 = 后量子公钥的keccak256，且确定性
	expected := crypto.Keccak256Hash(km.PQPublicKey())
	assert.Equal(t, expected, km.Salt())
	assert.Equal(t, km.Salt(), km.Salt())
}

func TestKeyMaterial_Dispose(t *testing.T) {
	km := newTestKeyMaterial(t, Level44)
	digest := crypto.Keccak256([]byte("msg"))

	km.Dispose()
	assert.True(t, km.IsDisposed())

	// 公钥缓冲区也应被清零
	for _, b := range km.pqPub {
		assert.Zero(t, b)
	}
	for _, b := range km.pqPriv {
		assert.Zero(t, b)
	}

	// 销毁后签名被拒绝
	_, err := km.SignClassical(digest)
	assert.Error(t, err)
	_, err = km.SignPQ(digest)
	assert.Error(t, err)

	// 重复销毁是幂等的
	km.Dispose()
	assert.True(t, km.IsDisposed())
}

func TestKeyMaterial_DisposeZeroesClassicalKey(t *testing.T) {
	km := newTestKeyMaterial(t, Level44)

	// 持有销毁前的大整数引用，清零必须作用在原对象上
	d := km.classicalPriv.D
	x := km.classicalPriv.PublicKey.X
	y := km.classicalPriv.PublicKey.Y
	require.NotZero(t, d.Sign())
	require.NotZero(t, x.Sign())
	require.NotZero(t, y.Sign())

	km.Dispose()

	// 经典私钥与公钥坐标同样清零，不只是丢弃引用
	assert.Zero(t, d.Sign())
	assert.Zero(t, x.Sign())
	assert.Zero(t, y.Sign())
}

func TestDeriveFromMnemonic(t *testing.T) {
	km, err := DeriveFromMnemonic(testMnemonic, "", "m/44'/60'/0'/0/0", Level44)
	require.NoError(t, err)
	defer km.Dispose()

	assert.NotEqual(t, [20]byte{}, km.ClassicalAddress)
	assert.Len(t, km.PQPublicKey(), Level44.PublicKeySize())

	// 同一助记词与路径必须派生出完全一致的密钥
	km2, err := DeriveFromMnemonic(testMnemonic, "", "m/44'/60'/0'/0/0", Level44)
	require.NoError(t, err)
	defer km2.Dispose()

	assert.Equal(t, km.ClassicalAddress, km2.ClassicalAddress)
	assert.Equal(t, km.PQPublicKey(), km2.PQPublicKey())

	// 不同索引派生出不同密钥
	km3, err := DeriveFromMnemonic(testMnemonic, "", "m/44'/60'/0'/0/1", Level44)
	require.NoError(t, err)
	defer km3.Dispose()

	assert.NotEqual(t, km.ClassicalAddress, km3.ClassicalAddress)
	assert.NotEqual(t, km.PQPublicKey(), km3.PQPublicKey())
}

func TestDeriveFromMnemonic_Invalid(t *testing.T) {
	// 非法助记词
	_, err := DeriveFromMnemonic("not a valid mnemonic", "", "m/44'/60'/0'/0/0", Level44)
	assert.Error(t, err)

	// 非法路径
	_, err = DeriveFromMnemonic(testMnemonic, "", "x/44'/60'", Level44)
	assert.Error(t, err)

	_, err = DeriveFromMnemonic(testMnemonic, "", "m/abc", Level44)
	assert.Error(t, err)
}
