package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/events"
	"pqwallet/internal/logging"
	"pqwallet/internal/opstore"
	"pqwallet/internal/tracker"
	"pqwallet/internal/userop"
	"pqwallet/pkg/models"
)

// OpState 一次发送的生命周期状态
type OpState string

const (
	StateDraft     OpState = "draft"
	StateHashed    OpState = "hashed"
	StateSigned    OpState = "signed"
	StateSubmitted OpState = "submitted"
	StateConfirmed OpState = "confirmed"
	StateReverted  OpState = "reverted"
	StateTimedOut  OpState = "timed_out"
)

// SendResult 一次发送的最终结果
type SendResult struct {
	OpHash common.Hash
	TxHash *common.Hash
	State  OpState
	Reason string
}

// Send 执行完整发送管线：构造、哈希、双栈签名、提交并等待终态。
// quote可为nil；传入报价时快照与gas上限原样复用，不做任何重新读取
func (c *Client) Send(ctx context.Context, calls []userop.Call, quote *Quote) (*SendResult, error) {
	snapshot := (*userop.ChainState)(nil)
	if quote != nil {
		snapshot = quote.Snapshot
	}
	if snapshot == nil {
		var err error
		snapshot, err = c.reader.Snapshot(ctx, c.km.AccountAddress)
		if err != nil {
			c.recordError(err, "send")
			return nil, err
		}
	}

	// draft
	op, err := c.buildDraft(calls, snapshot)
	if err != nil {
		c.recordError(err, "send")
		return nil, err
	}
	if quote != nil {
		if err := applyQuote(op, quote); err != nil {
			c.recordError(err, "send")
			return nil, err
		}
	}
	c.logState(StateDraft, op)

	// hashed
	digest, err := c.hashEngine.Hash(op)
	if err != nil {
		c.recordError(err, "send")
		return nil, err
	}
	c.logState(StateHashed, op)

	// signed：提交前本地校验，坏签名不出门
	sig, err := c.signer.Sign(digest)
	if err != nil {
		c.recordError(err, "send")
		return nil, err
	}
	if err := c.signer.VerifyLocal(digest, sig); err != nil {
		c.recordError(err, "send")
		return nil, err
	}
	op.Signature = sig
	c.logState(StateSigned, op)

	// 结构性校验，bundler会拒绝的操作不出门
	if result := c.validator.ValidateOperation(op); !result.Valid {
		valErr := result.Errors[0]
		c.recordError(valErr, "send")
		return nil, valErr
	}

	// submitted
	var wireOp models.RPCUserOperation
	wireOp.FromUserOperation(op)

	opHash, err := c.bundler.SendUserOperation(ctx, &wireOp, c.entryPoint)
	if err != nil {
		c.recordError(err, "send")
		return nil, err
	}
	c.logState(StateSubmitted, op)

	if err := c.store.Put(&models.PendingOperation{
		OpHash: opHash,
		Sender: op.Sender,
		Nonce:  (*hexutil.Big)(op.Nonce),
		Status: opstore.StatusSubmitted,
	}); err != nil {
		// 持久化失败不回滚已提交的操作，降级为只跟踪不落盘
		c.logger.Warnf("待确认记录落盘失败: %v", err)
	}
	c.emitSubmitted(opHash, op.Sender, op.Nonce.String())

	result := c.awaitTerminal(ctx, opHash, op)
	return result, nil
}

// awaitTerminal 等待终态并处理落库、事件与部署标记
func (c *Client) awaitTerminal(ctx context.Context, opHash common.Hash, op *userop.UserOperation) *SendResult {
	trackResult := c.tracker.Await(ctx, opHash, &tracker.Options{
		Timeout:      c.cfg.ConfirmTimeout(),
		PollInterval: c.cfg.PollInterval(),
	})

	result := &SendResult{
		OpHash: opHash,
		TxHash: trackResult.TxHash,
		Reason: trackResult.Reason,
	}

	switch {
	case trackResult.Success:
		result.State = StateConfirmed
		c.resolve(opHash, opstore.StatusConfirmed, trackResult)
		c.emitTerminal(events.EventConfirmed, opHash, op.Sender, trackResult.TxHash, "")

		// 首笔确认即部署完成
		if op.Factory != nil {
			c.km.Deployed = true
			if err := c.store.SetDeployed(op.Sender, true); err != nil {
				c.logger.Warnf("持久化部署标记失败: %v", err)
			}
		}
	case trackResult.Terminal:
		result.State = StateReverted
		c.resolve(opHash, opstore.StatusReverted, trackResult)
		c.emitTerminal(events.EventReverted, opHash, op.Sender, trackResult.TxHash, trackResult.Reason)
	default:
		result.State = StateTimedOut
		c.resolve(opHash, opstore.StatusTimedOut, trackResult)
		c.emitTerminal(events.EventTimedOut, opHash, op.Sender, nil, trackResult.Reason)
	}

	if c.structured != nil {
		logging.NewTrackerLogger(c.structured, opHash.Hex()).Info(
			"发送管线结束", "state", string(result.State))
	} else {
		c.logger.WithFields(logrus.Fields{
			"op_hash": opHash.Hex(),
			"state":   string(result.State),
		}).Info("发送管线结束")
	}

	return result
}

// emitSubmitted 把提交事件同时发往Kafka与本地审计日志
func (c *Client) emitSubmitted(opHash common.Hash, sender common.Address, nonce string) {
	c.events.PublishSubmitted(opHash, sender, nonce)
	c.audit.PublishSubmitted(opHash, sender, nonce)
}

// emitTerminal 把终态事件同时发往Kafka与本地审计日志
func (c *Client) emitTerminal(eventType string, opHash common.Hash, sender common.Address, txHash *common.Hash, reason string) {
	c.events.PublishTerminal(eventType, opHash, sender, txHash, reason)
	c.audit.PublishTerminal(eventType, opHash, sender, txHash, reason)
}

func (c *Client) resolve(opHash common.Hash, status string, trackResult *tracker.Result) {
	if err := c.store.Resolve(opHash, status, trackResult.TxHash, trackResult.Reason); err != nil {
		c.logger.Warnf("操作终态落盘失败: %v", err)
	}
}

// logState 记录生命周期推进，结构化日志器可用时走JSON输出
func (c *Client) logState(state OpState, op *userop.UserOperation) {
	if c.structured != nil {
		logging.NewOperationLogger(c.structured, op.Sender.Hex(), op.Nonce.String()).
			Debug("操作状态推进", "state", string(state))
		return
	}
	c.logger.WithFields(logrus.Fields{
		"state":  string(state),
		"sender": op.Sender.Hex(),
		"nonce":  op.Nonce.String(),
	}).Debug("操作状态推进")
}

// Resume 重启后继续跟踪所有落盘的待确认操作
func (c *Client) Resume(ctx context.Context) []*SendResult {
	pending, err := c.store.Pending()
	if err != nil {
		c.logger.Warnf("读取待确认操作失败: %v", err)
		return nil
	}

	results := make([]*SendResult, 0, len(pending))
	for _, record := range pending {
		trackResult := c.tracker.Await(ctx, record.OpHash, &tracker.Options{
			Timeout:      c.cfg.ConfirmTimeout(),
			PollInterval: c.cfg.PollInterval(),
		})

		result := &SendResult{OpHash: record.OpHash, TxHash: trackResult.TxHash, Reason: trackResult.Reason}
		switch {
		case trackResult.Success:
			result.State = StateConfirmed
			c.resolve(record.OpHash, opstore.StatusConfirmed, trackResult)
		case trackResult.Terminal:
			result.State = StateReverted
			c.resolve(record.OpHash, opstore.StatusReverted, trackResult)
		default:
			result.State = StateTimedOut
			c.resolve(record.OpHash, opstore.StatusTimedOut, trackResult)
		}
		results = append(results, result)
	}
	return results
}
