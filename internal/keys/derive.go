package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// pqSeedDomain 后量子种子的派生域分隔标签
const pqSeedDomain = "pqwallet/ml-dsa/v1"

// DeriveFromMnemonic 从助记词按路径派生双密钥材料。
// BIP-39/BIP-32本身视为外部可信原语，这里只做组合：
// 经典密钥走标准路径派生，后量子种子由主私钥与路径经域分隔哈希确定性派生。
func DeriveFromMnemonic(mnemonic, passphrase, path string, level SecurityLevel) (*KeyMaterial, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("无效的助记词")
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("创建主密钥失败: %w", err)
	}

	child, err := derivePath(master, path)
	if err != nil {
		return nil, fmt.Errorf("派生路径 %s 失败: %w", path, err)
	}

	btcPriv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("导出椭圆曲线私钥失败: %w", err)
	}
	classicalPriv := btcPriv.ToECDSA()

	pqSeed := derivePQSeed(crypto.FromECDSA(classicalPriv), path, level)
	defer wipe(pqSeed)

	return NewKeyMaterial(path, classicalPriv, pqSeed, level)
}

// derivePath 按 m/44'/60'/0'/0/0 形式的路径逐级派生
func derivePath(master *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] != "m" {
		return nil, fmt.Errorf("路径必须以 m/ 开头: %s", path)
	}

	key := master
	for _, seg := range segments[1:] {
		hardened := strings.HasSuffix(seg, "'") || strings.HasSuffix(seg, "h")
		numStr := strings.TrimRight(seg, "'h")

		index, err := strconv.ParseUint(numStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("非法路径分段 %q: %w", seg, err)
		}

		childIndex := uint32(index)
		if hardened {
			childIndex += hdkeychain.HardenedKeyStart
		}

		key, err = key.Derive(childIndex)
		if err != nil {
			return nil, fmt.Errorf("派生子密钥 %q 失败: %w", seg, err)
		}
	}

	return key, nil
}

// derivePQSeed 从经典私钥与路径确定性派生后量子种子
func derivePQSeed(classicalPrivBytes []byte, path string, level SecurityLevel) []byte {
	material := crypto.Keccak256(
		[]byte(pqSeedDomain),
		classicalPrivBytes,
		[]byte(path),
		[]byte{byte(level)},
	)

	// ML-DSA种子固定32字节，keccak输出正好一轮
	seed := make([]byte, level.SeedSize())
	copy(seed, material)
	return seed
}
