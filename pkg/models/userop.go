package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"pqwallet/internal/userop"
)

// RPCUserOperation bundler线上格式的用户操作。所有数值字段十六进制编码，
// 空的bytes字段序列化为"0x"
type RPCUserOperation struct {
	Sender               common.Address  `json:"sender"`
	Nonce                *hexutil.Big    `json:"nonce"`
	Factory              *common.Address `json:"factory,omitempty"`
	FactoryData          hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData             hexutil.Bytes   `json:"callData"`
	CallGasLimit         *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes   `json:"paymasterAndData,omitempty"`
	Signature            hexutil.Bytes   `json:"signature"`
}

// FromUserOperation 由内部草稿转换为线上格式
func (r *RPCUserOperation) FromUserOperation(op *userop.UserOperation) {
	r.Sender = op.Sender
	r.Nonce = bigOrZero(op.Nonce)
	r.Factory = op.Factory
	r.FactoryData = op.FactoryData
	r.CallData = op.CallData
	r.CallGasLimit = bigOrZero(op.CallGasLimit)
	r.VerificationGasLimit = bigOrZero(op.VerificationGasLimit)
	r.PreVerificationGas = bigOrZero(op.PreVerificationGas)
	r.MaxFeePerGas = bigOrZero(op.MaxFeePerGas)
	r.MaxPriorityFeePerGas = bigOrZero(op.MaxPriorityFeePerGas)
	r.PaymasterAndData = op.PaymasterAndData
	r.Signature = op.Signature
}

// GasEstimate eth_estimateUserOperationGas的响应。部分bundler额外返回
// 已含EntryPoint开销的totalGas，存在时直接采信，不再叠加本地缓冲
type GasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
	TotalGas             *hexutil.Big `json:"totalGas,omitempty"`
}

// UserOperationReceipt eth_getUserOperationReceipt的响应（按需取用的子集）
type UserOperationReceipt struct {
	UserOpHash    common.Hash     `json:"userOpHash"`
	Sender        common.Address  `json:"sender"`
	Nonce         *hexutil.Big    `json:"nonce"`
	Success       bool            `json:"success"`
	ActualGasUsed *hexutil.Big    `json:"actualGasUsed"`
	ActualGasCost *hexutil.Big    `json:"actualGasCost"`
	Reason        string          `json:"reason,omitempty"`
	Receipt       *InnerTxReceipt `json:"receipt,omitempty"`
}

// InnerTxReceipt 承载操作的L1交易回执子集
type InnerTxReceipt struct {
	TransactionHash common.Hash  `json:"transactionHash"`
	BlockNumber     *hexutil.Big `json:"blockNumber"`
	BlockHash       common.Hash  `json:"blockHash"`
	GasUsed         *hexutil.Big `json:"gasUsed"`
}

// PendingOperation 本地持久化的待确认操作记录
type PendingOperation struct {
	OpHash    common.Hash    `json:"op_hash"`
	Sender    common.Address `json:"sender"`
	Nonce     *hexutil.Big   `json:"nonce"`
	Status    string         `json:"status"`
	TxHash    *common.Hash   `json:"tx_hash,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
	LastError string         `json:"last_error,omitempty"`
}

// NonceString 展示用nonce。落盘降级补建的记录可能没有nonce
func (p *PendingOperation) NonceString() string {
	if p.Nonce == nil {
		return "-"
	}
	return p.Nonce.String()
}

func bigOrZero(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(v)
}
