package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"pqwallet/internal/errors"
)

var errPackOverflow = errors.NewWalletError(errors.ErrorTypeValidation,
	errors.SeverityHigh, "GAS_PACK_OVERFLOW", "gas或费率数值超出128位打包上限")

// EIP-712风格的类型哈希，对打包后的操作结构体与域分隔符各取一次
var (
	packedOpTypeHash = crypto.Keccak256Hash([]byte(
		"PackedUserOperation(address sender,uint256 nonce,bytes initCode,bytes callData,bytes32 accountGasLimits,uint256 preVerificationGas,bytes32 gasFees,bytes paymasterAndData)"))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

	domainName    = crypto.Keccak256Hash([]byte("ERC4337"))
	domainVersion = crypto.Keccak256Hash([]byte("1"))
)

var (
	typeBytes32, _ = abi.NewType("bytes32", "", nil)
	typeAddress, _ = abi.NewType("address", "", nil)
	typeUint256, _ = abi.NewType("uint256", "", nil)
)

// structHashArgs 结构体哈希的ABI编码参数：动态bytes字段先行keccak成定长bytes32
var structHashArgs = abi.Arguments{
	{Type: typeBytes32}, // typeHash
	{Type: typeAddress}, // sender
	{Type: typeUint256}, // nonce
	{Type: typeBytes32}, // keccak(initCode)
	{Type: typeBytes32}, // keccak(callData)
	{Type: typeBytes32}, // accountGasLimits
	{Type: typeUint256}, // preVerificationGas
	{Type: typeBytes32}, // gasFees
	{Type: typeBytes32}, // keccak(paymasterAndData)
}

var domainArgs = abi.Arguments{
	{Type: typeBytes32}, // typeHash
	{Type: typeBytes32}, // keccak(name)
	{Type: typeBytes32}, // keccak(version)
	{Type: typeUint256}, // chainId
	{Type: typeAddress}, // verifyingContract
}

// HashEngine 规范操作哈希引擎。chainID与entryPoint在构造时绑定，
// 同一[chainID, entryPoint]下同一操作的哈希必须逐字节稳定
type HashEngine struct {
	chainID    *big.Int
	entryPoint common.Address

	domainSeparator common.Hash
}

// NewHashEngine 创建哈希引擎并预计算域分隔符
func NewHashEngine(chainID *big.Int, entryPoint common.Address) (*HashEngine, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, errInvalidChainID
	}
	encoded, err := domainArgs.Pack(domainTypeHash, domainName, domainVersion, chainID, entryPoint)
	if err != nil {
		return nil, err
	}
	return &HashEngine{
		chainID:         chainID,
		entryPoint:      entryPoint,
		domainSeparator: crypto.Keccak256Hash(encoded),
	}, nil
}

// ChainID 返回绑定的链ID
func (h *HashEngine) ChainID() *big.Int {
	return h.chainID
}

// EntryPoint 返回绑定的入口点地址
func (h *HashEngine) EntryPoint() common.Address {
	return h.entryPoint
}

// DomainSeparator 返回预计算的域分隔符
func (h *HashEngine) DomainSeparator() common.Hash {
	return h.domainSeparator
}

// Hash 计算操作的签名摘要：keccak256(0x1901 ‖ domainSeparator ‖ structHash)。
// Signature字段不参与哈希
func (h *HashEngine) Hash(op *UserOperation) (common.Hash, error) {
	structHash, err := h.structHash(op)
	if err != nil {
		return common.Hash{}, err
	}

	preimage := make([]byte, 0, 2+32+32)
	preimage = append(preimage, 0x19, 0x01)
	preimage = append(preimage, h.domainSeparator.Bytes()...)
	preimage = append(preimage, structHash.Bytes()...)
	return crypto.Keccak256Hash(preimage), nil
}

// structHash 计算打包形态的结构体哈希
func (h *HashEngine) structHash(op *UserOperation) (common.Hash, error) {
	accountGasLimits, err := PackAccountGasLimits(op.VerificationGasLimit, op.CallGasLimit)
	if err != nil {
		return common.Hash{}, err
	}
	gasFees, err := PackGasFees(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
	if err != nil {
		return common.Hash{}, err
	}

	encoded, err := structHashArgs.Pack(
		packedOpTypeHash,
		op.Sender,
		valueOrZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode()),
		crypto.Keccak256Hash(op.CallData),
		accountGasLimits,
		valueOrZero(op.PreVerificationGas),
		gasFees,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// PackAccountGasLimits 打包verificationGasLimit(高16字节)与callGasLimit(低16字节)
func PackAccountGasLimits(verificationGasLimit, callGasLimit *big.Int) ([32]byte, error) {
	return packPair(verificationGasLimit, callGasLimit)
}

// PackGasFees 打包maxPriorityFeePerGas(高16字节)与maxFeePerGas(低16字节)
func PackGasFees(maxPriorityFeePerGas, maxFeePerGas *big.Int) ([32]byte, error) {
	return packPair(maxPriorityFeePerGas, maxFeePerGas)
}

// packPair 两个uint128拼成一个32字节字。超出128位的值无法打包，
// 调用方给出的GasHint等外部数值可能触达这里
func packPair(high, low *big.Int) ([32]byte, error) {
	var out [32]byte
	h, l := valueOrZero(high), valueOrZero(low)
	if h.BitLen() > 128 || l.BitLen() > 128 {
		return out, errPackOverflow
	}
	h.FillBytes(out[:16])
	l.FillBytes(out[16:])
	return out, nil
}
