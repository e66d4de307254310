package keys

import (
	"fmt"

	"pqwallet/internal/errors"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"
)

// SecurityLevel 后量子安全级别，携带该参数集的固定尺寸表
type SecurityLevel int

const (
	Level44 SecurityLevel = 44
	Level65 SecurityLevel = 65
	Level87 SecurityLevel = 87
)

// levelParams 各安全级别的固定参数
type levelParams struct {
	scheme        sign.Scheme
	publicKeySize int
	signatureSize int
}

var levelTable = map[SecurityLevel]levelParams{
	Level44: {scheme: mldsa44.Scheme(), publicKeySize: 1312, signatureSize: 2420},
	Level65: {scheme: mldsa65.Scheme(), publicKeySize: 1952, signatureSize: 3309},
	Level87: {scheme: mldsa87.Scheme(), publicKeySize: 2592, signatureSize: 4627},
}

// ParseSecurityLevel 校验并返回安全级别，不支持的级别立即失败
func ParseSecurityLevel(level int) (SecurityLevel, error) {
	sl := SecurityLevel(level)
	if _, ok := levelTable[sl]; !ok {
		return 0, errors.NewSecurityLevelMismatch(level)
	}
	return sl, nil
}

// Scheme 返回该级别的签名方案
func (sl SecurityLevel) Scheme() sign.Scheme {
	return levelTable[sl].scheme
}

// PublicKeySize 返回该级别的公钥长度
func (sl SecurityLevel) PublicKeySize() int {
	return levelTable[sl].publicKeySize
}

// SignatureSize 返回该级别的签名长度
func (sl SecurityLevel) SignatureSize() int {
	return levelTable[sl].signatureSize
}

// SeedSize 返回该级别的种子长度
func (sl SecurityLevel) SeedSize() int {
	return levelTable[sl].scheme.SeedSize()
}

// String 返回级别的可读名称
func (sl SecurityLevel) String() string {
	if p, ok := levelTable[sl]; ok {
		return p.scheme.Name()
	}
	return fmt.Sprintf("unknown(%d)", int(sl))
}
