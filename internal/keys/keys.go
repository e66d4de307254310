package keys

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"pqwallet/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyMaterial 单个派生路径下的双密钥材料：经典secp256k1密钥对 + 后量子ML-DSA密钥对
type KeyMaterial struct {
	Path             string
	Level            SecurityLevel
	ClassicalAddress common.Address

	// AccountAddress 智能账户的反事实地址，由工厂合约确定性计算
	AccountAddress common.Address
	// Deployed 账户是否已在链上部署；确认到部署操作后翻转
	Deployed bool

	classicalPriv *ecdsa.PrivateKey
	pqPriv        []byte // 打包后的ML-DSA私钥
	pqPub         []byte // 打包后的ML-DSA公钥
	disposed      bool
}

// NewKeyMaterial 从经典私钥和后量子种子构造密钥材料
func NewKeyMaterial(path string, classicalPriv *ecdsa.PrivateKey, pqSeed []byte, level SecurityLevel) (*KeyMaterial, error) {
	if classicalPriv == nil {
		return nil, errors.NewWalletError(errors.ErrorTypeKeyMaterial, errors.SeverityCritical,
			"KEY_MATERIAL_INVALID", "经典私钥为空")
	}

	scheme := level.Scheme()
	if len(pqSeed) != scheme.SeedSize() {
		return nil, errors.NewWalletError(errors.ErrorTypeKeyMaterial, errors.SeverityCritical,
			"KEY_MATERIAL_INVALID",
			fmt.Sprintf("后量子种子长度错误: 期望 %d 实际 %d", scheme.SeedSize(), len(pqSeed)))
	}

	pub, priv := scheme.DeriveKey(pqSeed)

	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("序列化后量子公钥失败: %w", err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("序列化后量子私钥失败: %w", err)
	}

	return &KeyMaterial{
		Path:             path,
		Level:            level,
		ClassicalAddress: crypto.PubkeyToAddress(classicalPriv.PublicKey),
		classicalPriv:    classicalPriv,
		pqPriv:           privBytes,
		pqPub:            pubBytes,
	}, nil
}

// SignClassical 用经典密钥对原始32字节摘要签名，返回65字节 r‖s‖v，v∈{27,28}
func (km *KeyMaterial) SignClassical(digest []byte) ([]byte, error) {
	if km.disposed {
		return nil, errors.NewWalletError(errors.ErrorTypeKeyMaterial, errors.SeverityCritical,
			"KEY_DISPOSED", "密钥材料已销毁")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("摘要长度错误: 期望32字节, 实际%d字节", len(digest))
	}

	sig, err := crypto.Sign(digest, km.classicalPriv)
	if err != nil {
		return nil, fmt.Errorf("经典签名失败: %w", err)
	}

	// 链上校验期望 v 为 27/28
	sig[64] += 27
	return sig, nil
}

// SignPQ 用后量子密钥对同一摘要签名，签名长度由安全级别固定
func (km *KeyMaterial) SignPQ(digest []byte) ([]byte, error) {
	if km.disposed {
		return nil, errors.NewWalletError(errors.ErrorTypeKeyMaterial, errors.SeverityCritical,
			"KEY_DISPOSED", "密钥材料已销毁")
	}
	if len(digest) != 32 {
		return nil, fmt.Errorf("摘要长度错误: 期望32字节, 实际%d字节", len(digest))
	}

	scheme := km.Level.Scheme()
	sk, err := scheme.UnmarshalBinaryPrivateKey(km.pqPriv)
	if err != nil {
		return nil, fmt.Errorf("解析后量子私钥失败: %w", err)
	}

	sig := scheme.Sign(sk, digest, nil)
	if len(sig) != km.Level.SignatureSize() {
		return nil, fmt.Errorf("后量子签名长度异常: 期望 %d 实际 %d", km.Level.SignatureSize(), len(sig))
	}

	return sig, nil
}

// PQPublicKey 返回打包后的后量子公钥副本
func (km *KeyMaterial) PQPublicKey() []byte {
	pub := make([]byte, len(km.pqPub))
	copy(pub, km.pqPub)
	return pub
}

// Salt 返回账户盐值：后量子公钥的keccak256哈希
func (km *KeyMaterial) Salt() common.Hash {
	return crypto.Keccak256Hash(km.pqPub)
}

// Dispose 销毁密钥材料：双方案的私钥与公钥缓冲区全部清零；可重复调用
func (km *KeyMaterial) Dispose() {
	if km.disposed {
		return
	}

	wipe(km.pqPriv)
	wipe(km.pqPub)

	if km.classicalPriv != nil {
		wipeBig(km.classicalPriv.D)
		wipeBig(km.classicalPriv.PublicKey.X)
		wipeBig(km.classicalPriv.PublicKey.Y)
	}

	km.disposed = true
}

// IsDisposed 是否已销毁
func (km *KeyMaterial) IsDisposed() bool {
	return km.disposed
}

// wipe 尽力清零敏感字节切片
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// wipeBig 清零大整数的底层字。SetInt64(0)只截断切片不抹字，
// 必须先逐字清零再归零
func wipeBig(v *big.Int) {
	if v == nil {
		return
	}
	bits := v.Bits()
	for i := range bits {
		bits[i] = 0
	}
	v.SetInt64(0)
}

// VerifyPQ 独立校验后量子签名；尺寸与级别不符时在校验前即拒绝
func VerifyPQ(level SecurityLevel, pubKey, digest, sig []byte) (bool, error) {
	if len(pubKey) != level.PublicKeySize() {
		return false, errors.NewSecurityLevelMismatch(int(level))
	}
	if len(sig) != level.SignatureSize() {
		return false, errors.NewSecurityLevelMismatch(int(level))
	}

	scheme := level.Scheme()
	pk, err := scheme.UnmarshalBinaryPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("解析后量子公钥失败: %w", err)
	}

	return scheme.Verify(pk, digest, sig, nil), nil
}

// RecoverClassical 从65字节签名恢复经典签名者地址
func RecoverClassical(digest, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("经典签名长度错误: 期望65字节, 实际%d字节", len(sig))
	}

	// 恢复接口期望 v 为 0/1
	rsv := make([]byte, 65)
	copy(rsv, sig)
	if rsv[64] >= 27 {
		rsv[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, rsv)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复经典公钥失败: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}
