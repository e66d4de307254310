package signer

import (
	"bytes"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
	"pqwallet/internal/keys"
)

var (
	typeBytes, _   = abi.NewType("bytes", "", nil)
	typeAddress, _ = abi.NewType("address", "", nil)
)

// signatureArgs 复合签名的线上编码形状：(classicalSig, pqSig, pqPubKey, classicalOwner)
var signatureArgs = abi.Arguments{
	{Type: typeBytes},
	{Type: typeBytes},
	{Type: typeBytes},
	{Type: typeAddress},
}

// DualSigner 双栈签名器：对同一摘要分别产出ECDSA与ML-DSA签名并合并编码。
// 账户合约在过渡期内两条签名都校验，任一失败即拒绝
type DualSigner struct {
	km     *keys.KeyMaterial
	logger *logrus.Logger
}

// NewDualSigner 创建双栈签名器
func NewDualSigner(km *keys.KeyMaterial, logger *logrus.Logger) (*DualSigner, error) {
	if km == nil {
		return nil, errors.NewWalletError(errors.ErrorTypeKeyMaterial,
			errors.SeverityCritical, "KEY_MATERIAL_NIL", "签名器缺少密钥材料")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &DualSigner{km: km, logger: logger}, nil
}

// Sign 对32字节摘要产出复合签名。摘要即规范操作哈希，不加EIP-191前缀
func (s *DualSigner) Sign(digest [32]byte) ([]byte, error) {
	classicalSig, err := s.km.SignClassical(digest[:])
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSigning,
			errors.SeverityCritical, "CLASSICAL_SIGN_FAILED", "ECDSA签名失败")
	}

	pqSig, err := s.km.SignPQ(digest[:])
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSigning,
			errors.SeverityCritical, "PQ_SIGN_FAILED", "ML-DSA签名失败")
	}

	encoded, err := signatureArgs.Pack(classicalSig, pqSig,
		s.km.PQPublicKey(), s.km.ClassicalAddress)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityCritical, "SIGNATURE_ENCODE_FAILED", "复合签名编码失败")
	}

	s.logger.WithFields(logrus.Fields{
		"level":         int(s.km.Level),
		"classical_len": len(classicalSig),
		"pq_len":        len(pqSig),
		"total_len":     len(encoded),
	}).Debug("复合签名已生成")

	return encoded, nil
}

// DecodedSignature 解码后的复合签名
type DecodedSignature struct {
	ClassicalSig   []byte
	PQSig          []byte
	PQPublicKey    []byte
	ClassicalOwner common.Address
}

// DecodeSignature 解码复合签名
func DecodeSignature(encoded []byte) (*DecodedSignature, error) {
	values, err := signatureArgs.Unpack(encoded)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "SIGNATURE_DECODE_FAILED", "复合签名解码失败")
	}
	return &DecodedSignature{
		ClassicalSig:   values[0].([]byte),
		PQSig:          values[1].([]byte),
		PQPublicKey:    values[2].([]byte),
		ClassicalOwner: values[3].(common.Address),
	}, nil
}

// VerifyLocal 在发往bundler之前本地校验复合签名：
// 恢复出的经典地址必须与密钥材料一致，ML-DSA签名必须能通过持有的公钥验证。
// 尺寸或级别不符在进入验证算法之前即被拒绝
func (s *DualSigner) VerifyLocal(digest [32]byte, encoded []byte) error {
	decoded, err := DecodeSignature(encoded)
	if err != nil {
		return err
	}

	if len(decoded.ClassicalSig) != 65 {
		return signatureInvalid("经典签名长度错误")
	}
	recovered, err := keys.RecoverClassical(digest[:], decoded.ClassicalSig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSigning,
			errors.SeverityCritical, "SIGNATURE_INVALID", "经典签名恢复失败")
	}
	if recovered != s.km.ClassicalAddress {
		return signatureInvalid("恢复出的经典地址不匹配")
	}
	if decoded.ClassicalOwner != s.km.ClassicalAddress {
		return signatureInvalid("签名内嵌的经典地址不匹配")
	}

	if !bytes.Equal(decoded.PQPublicKey, s.km.PQPublicKey()) {
		return signatureInvalid("后量子公钥不匹配")
	}
	ok, err := keys.VerifyPQ(s.km.Level, decoded.PQPublicKey, digest[:], decoded.PQSig)
	if err != nil {
		return err
	}
	if !ok {
		return signatureInvalid("后量子签名校验失败")
	}

	return nil
}

// PlaceholderSignature 生成长度与真实签名完全一致的占位签名。
// bundler按签名长度计费，估算必须用同尺寸的签名
func PlaceholderSignature(km *keys.KeyMaterial) ([]byte, error) {
	classicalSig := make([]byte, 65)
	pqSig := make([]byte, km.Level.SignatureSize())
	return signatureArgs.Pack(classicalSig, pqSig, km.PQPublicKey(), km.ClassicalAddress)
}

// signatureInvalid 构造本地校验失败错误
func signatureInvalid(reason string) *errors.WalletError {
	return errors.NewWalletError(errors.ErrorTypeSigning, errors.SeverityCritical,
		"SIGNATURE_INVALID", "复合签名本地校验失败: "+reason)
}
