package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
	"pqwallet/internal/logging"
	"pqwallet/internal/signer"
	"pqwallet/internal/userop"
	"pqwallet/pkg/models"
)

// Quote 一次gas报价。报价携带捕获时的链上快照与最终gas上限，
// 传回Send后两侧使用完全相同的nonce、部署判定、费率与gas上限
type Quote struct {
	MaxCost  *big.Int // 最坏情况总成本 (wei)
	TotalGas *big.Int

	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int

	Snapshot  *userop.ChainState
	CreatedAt time.Time
}

// Quote 估算一次发送的gas成本：并行捕获链上快照，构造带占位签名的草稿，
// 请求bundler估算并套用下限与缓冲
func (c *Client) Quote(ctx context.Context, calls []userop.Call) (*Quote, error) {
	snapshot, err := c.reader.Snapshot(ctx, c.km.AccountAddress)
	if err != nil {
		c.recordError(err, "quote")
		return nil, err
	}

	op, err := c.buildDraft(calls, snapshot)
	if err != nil {
		c.recordError(err, "quote")
		return nil, err
	}

	// 估算请求必须带等长的占位签名，bundler按字节计算pre-verification开销
	placeholder, err := signer.PlaceholderSignature(c.km)
	if err != nil {
		c.recordError(err, "quote")
		return nil, err
	}
	op.Signature = placeholder

	var wireOp models.RPCUserOperation
	wireOp.FromUserOperation(op)

	estimate, err := c.bundler.EstimateUserOperationGas(ctx, &wireOp, c.entryPoint)
	if err != nil {
		c.recordError(err, "quote")
		return nil, err
	}
	totalGas := c.adoptEstimate(op, estimate)

	quote := &Quote{
		MaxCost:              new(big.Int).Mul(totalGas, op.MaxFeePerGas),
		TotalGas:             totalGas,
		PreVerificationGas:   op.PreVerificationGas,
		VerificationGasLimit: op.VerificationGasLimit,
		CallGasLimit:         op.CallGasLimit,
		Snapshot:             snapshot,
		CreatedAt:            time.Now(),
	}

	if c.structured != nil {
		logging.NewOperationLogger(c.structured, op.Sender.Hex(), op.Nonce.String()).Info(
			"gas报价完成",
			"total_gas", totalGas.String(),
			"max_cost", quote.MaxCost.String(),
			"deployed", snapshot.Deployed,
		)
	} else {
		c.logger.WithFields(logrus.Fields{
			"total_gas": totalGas.String(),
			"max_cost":  quote.MaxCost.String(),
			"deployed":  snapshot.Deployed,
		}).Info("gas报价完成")
	}

	return quote, nil
}

// adoptEstimate 把bundler估算套用到草稿并得出报价总gas。bundler给出含
// EntryPoint开销的totalGas时组件估算已由对方加垫，原样采信；否则对原始
// 组件估算重新套用构造器缓冲，报价与发送两侧的gas上限因此不会分叉
func (c *Client) adoptEstimate(op *userop.UserOperation, estimate *models.GasEstimate) *big.Int {
	if total := (*big.Int)(estimate.TotalGas); total != nil && total.Sign() > 0 {
		adoptLimit(&op.PreVerificationGas, estimate.PreVerificationGas)
		adoptLimit(&op.VerificationGasLimit, estimate.VerificationGasLimit)
		adoptLimit(&op.CallGasLimit, estimate.CallGasLimit)
		return new(big.Int).Set(total)
	}

	c.builder.ApplyEstimates(op,
		(*big.Int)(estimate.PreVerificationGas),
		(*big.Int)(estimate.VerificationGasLimit),
		(*big.Int)(estimate.CallGasLimit))

	totalGas := new(big.Int).Add(op.PreVerificationGas, op.VerificationGasLimit)
	return totalGas.Add(totalGas, op.CallGasLimit)
}

// adoptLimit 组件估算缺失时保留草稿默认值
func adoptLimit(dst **big.Int, v *hexutil.Big) {
	if v != nil {
		*dst = new(big.Int).Set((*big.Int)(v))
	}
}

// buildDraft 由快照与调用列表构造未签名草稿
func (c *Client) buildDraft(calls []userop.Call, snapshot *userop.ChainState) (*userop.UserOperation, error) {
	return c.builder.Build(userop.BuildParams{
		Sender:         c.km.AccountAddress,
		Calls:          calls,
		State:          snapshot,
		PQPublicKey:    c.km.PQPublicKey(),
		ClassicalOwner: c.km.ClassicalAddress,
	})
}

// applyQuote 把报价的gas上限原样套到草稿上
func applyQuote(op *userop.UserOperation, quote *Quote) error {
	if quote.PreVerificationGas == nil || quote.VerificationGasLimit == nil || quote.CallGasLimit == nil {
		return errors.NewWalletError(errors.ErrorTypeValidation,
			errors.SeverityHigh, "QUOTE_INCOMPLETE", "报价缺少gas上限")
	}
	op.PreVerificationGas = new(big.Int).Set(quote.PreVerificationGas)
	op.VerificationGasLimit = new(big.Int).Set(quote.VerificationGasLimit)
	op.CallGasLimit = new(big.Int).Set(quote.CallGasLimit)
	return nil
}
