package tracker

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/bundler"
)

// Options 确认跟踪选项
type Options struct {
	Timeout      time.Duration // 等待终态的总时长
	PollInterval time.Duration // 轮询回执的间隔
}

// DefaultOptions 默认选项：60秒窗口，1秒轮询
func DefaultOptions() *Options {
	return &Options{
		Timeout:      60 * time.Second,
		PollInterval: 1 * time.Second,
	}
}

// Result 一次跟踪的结果。普通的未确认（窗口耗尽）不是错误：
// Success=false且Err为nil，Reason说明原因
type Result struct {
	OpHash   common.Hash
	Success  bool
	Terminal bool // 观察到终态为true；窗口耗尽为false
	TxHash   *common.Hash
	Reason   string
	Err      error
}

// Tracker 操作确认跟踪器。优先走bundler的websocket推送，
// 订阅在任何环节失败都降级为轮询回执
type Tracker struct {
	client *bundler.Client
	logger *logrus.Logger
}

// NewTracker 创建确认跟踪器
func NewTracker(client *bundler.Client, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{client: client, logger: logger}
}

// Await 等待操作到达终态。两段式策略：先尝试推送订阅，
// 订阅不可用或中断时用剩余窗口轮询
func (t *Tracker) Await(ctx context.Context, opHash common.Hash, options *Options) *Result {
	if options == nil {
		options = DefaultOptions()
	}
	if options.Timeout <= 0 {
		options.Timeout = 60 * time.Second
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 1 * time.Second
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	if result, done := t.awaitPush(deadlineCtx, opHash); done {
		return result
	}
	return t.awaitPolling(deadlineCtx, opHash, options.PollInterval)
}

// awaitPush 推送等待段。done为false表示应降级为轮询
func (t *Tracker) awaitPush(ctx context.Context, opHash common.Hash) (*Result, bool) {
	ch := make(chan bundler.StatusEvent, 8)
	sub, err := t.client.SubscribeStatus(ctx, opHash, ch)
	if err != nil {
		t.logger.Debugf("推送订阅不可用，降级为轮询: %v", err)
		return nil, false
	}
	defer sub.Unsubscribe()

	for {
		select {
		case event := <-ch:
			if event.UserOpHash != opHash {
				continue
			}
			if result := t.resolveEvent(opHash, &event); result != nil {
				return result, true
			}
		case err := <-sub.Err():
			t.logger.Warnf("推送订阅中断，降级为轮询: %v", err)
			return nil, false
		case <-ctx.Done():
			return t.timeoutResult(opHash), true
		}
	}
}

// resolveEvent 将推送事件映射为终态结果，非终态事件返回nil
func (t *Tracker) resolveEvent(opHash common.Hash, event *bundler.StatusEvent) *Result {
	switch event.Status {
	case bundler.StatusIncluded:
		return &Result{OpHash: opHash, Success: true, Terminal: true, TxHash: event.TransactionHash}
	case bundler.StatusReverted:
		return &Result{OpHash: opHash, Success: false, Terminal: true, TxHash: event.TransactionHash,
			Reason: reasonOr(event.Reason, "操作执行回滚")}
	case bundler.StatusRejected:
		return &Result{OpHash: opHash, Success: false, Terminal: true,
			Reason: reasonOr(event.Reason, "操作被bundler拒绝")}
	default:
		t.logger.Debugf("操作 %s 中间状态: %s", opHash.Hex(), event.Status)
		return nil
	}
}

// awaitPolling 轮询等待段
func (t *Tracker) awaitPolling(ctx context.Context, opHash common.Hash, interval time.Duration) *Result {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := t.client.GetUserOperationReceipt(ctx, opHash)
		if err != nil {
			// 单次查询失败不终止跟踪，窗口内继续轮询
			t.logger.Debugf("查询操作回执失败: %v", err)
		} else if receipt != nil {
			result := &Result{OpHash: opHash, Success: receipt.Success, Terminal: true}
			if receipt.Receipt != nil {
				txHash := receipt.Receipt.TransactionHash
				result.TxHash = &txHash
			}
			if !receipt.Success {
				result.Reason = reasonOr(receipt.Reason, "操作执行回滚")
			}
			return result
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return t.timeoutResult(opHash)
		}
	}
}

func (t *Tracker) timeoutResult(opHash common.Hash) *Result {
	t.logger.Infof("操作 %s 在窗口内未到终态", opHash.Hex())
	return &Result{OpHash: opHash, Success: false, Reason: "确认窗口内未观察到终态"}
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
