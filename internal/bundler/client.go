package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
	"pqwallet/internal/retry"
	"pqwallet/pkg/models"
)

// Options bundler客户端选项
type Options struct {
	Timeout    time.Duration  // 单次尝试的超时
	MaxRetries int            // 可重试失败的追加尝试次数
	Observer   retry.Observer // 每次退避前的回调，可为nil
}

// DefaultOptions 默认选项：30秒单次超时，3次重试（共4次尝试）
func DefaultOptions() *Options {
	return &Options{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// Client 弹性bundler JSON-RPC客户端。所有方法在可重试失败上指数退避，
// 不可重试失败立即返回供调用方修正请求
type Client struct {
	endpoint   string
	wsEndpoint string
	httpClient *http.Client
	options    *Options
	retrier    *retry.Retrier
	logger     *logrus.Logger
	nextID     atomic.Uint64
}

// NewClient 创建bundler客户端。wsEndpoint可为空，为空时推送订阅不可用
func NewClient(endpoint, wsEndpoint string, options *Options, logger *logrus.Logger) *Client {
	if options == nil {
		options = DefaultOptions()
	}
	if options.Timeout <= 0 {
		options.Timeout = 30 * time.Second
	}
	if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}
	if logger == nil {
		logger = logrus.New()
	}

	retryConfig := &retry.RetryConfig{
		MaxAttempts:     options.MaxRetries + 1,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		BackoffFactor:   2.0,
	}

	return &Client{
		endpoint:   endpoint,
		wsEndpoint: wsEndpoint,
		httpClient: &http.Client{},
		options:    options,
		retrier:    retry.NewRetrier(retryConfig, logger, options.Observer),
		logger:     logger,
	}
}

// rpcRequest JSON-RPC 2.0请求
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse JSON-RPC 2.0响应
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Call 发起一次JSON-RPC调用并将结果解码到result（可为nil）。
// 重试语义：传输错误与5xx退避重试直至耗尽，4xx与命中AA分类的RPC错误立即返回
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	return c.retrier.Execute(ctx, method, func() error {
		return c.callOnce(ctx, result, method, params)
	})
}

// callOnce 单次HTTP往返，带独立超时
func (c *Client) callOnce(ctx context.Context, result interface{}, method string, params []interface{}) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.options.Timeout)
	defer cancel()

	payload, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "RPC_ENCODE_FAILED", "编码JSON-RPC请求失败")
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.NewNonRetryableRpcError("RPC_REQUEST_INVALID", "构造HTTP请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewNetworkFailure(err).WithMethod(method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewNetworkFailure(err).WithMethod(method)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPStatus(resp.StatusCode, string(body)).WithMethod(method)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityMedium, "RPC_DECODE_FAILED", "解码JSON-RPC响应失败")
	}

	if rpcResp.Error != nil {
		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"code":    rpcResp.Error.Code,
			"message": rpcResp.Error.Message,
		}).Debug("bundler返回RPC错误")
		return classifyRPCError(rpcResp.Error.Code, rpcResp.Error.Message).WithMethod(method)
	}

	if result != nil && len(rpcResp.Result) > 0 && string(rpcResp.Result) != "null" {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return errors.WrapError(err, errors.ErrorTypeSerialization,
				errors.SeverityMedium, "RPC_RESULT_DECODE_FAILED", "解码JSON-RPC结果失败")
		}
	}

	return nil
}

// EstimateUserOperationGas 请求bundler估算操作gas
func (c *Client) EstimateUserOperationGas(ctx context.Context, op *models.RPCUserOperation, entryPoint common.Address) (*models.GasEstimate, error) {
	var estimate models.GasEstimate
	if err := c.Call(ctx, &estimate, "eth_estimateUserOperationGas", op, entryPoint); err != nil {
		return nil, err
	}
	return &estimate, nil
}

// SendUserOperation 提交已签名操作，返回bundler确认受理的操作哈希
func (c *Client) SendUserOperation(ctx context.Context, op *models.RPCUserOperation, entryPoint common.Address) (common.Hash, error) {
	var opHash common.Hash
	if err := c.Call(ctx, &opHash, "eth_sendUserOperation", op, entryPoint); err != nil {
		return common.Hash{}, err
	}
	return opHash, nil
}

// GetUserOperationReceipt 查询操作回执，尚未上链时返回(nil, nil)
func (c *Client) GetUserOperationReceipt(ctx context.Context, opHash common.Hash) (*models.UserOperationReceipt, error) {
	var receipt models.UserOperationReceipt
	if err := c.Call(ctx, &receipt, "eth_getUserOperationReceipt", opHash); err != nil {
		return nil, err
	}
	if receipt.UserOpHash == (common.Hash{}) {
		return nil, nil
	}
	return &receipt, nil
}

// SupportedEntryPoints 查询bundler支持的入口点列表
func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var entryPoints []common.Address
	if err := c.Call(ctx, &entryPoints, "eth_supportedEntryPoints"); err != nil {
		return nil, err
	}
	return entryPoints, nil
}

// StatusEvent bundler推送的操作状态事件
type StatusEvent struct {
	UserOpHash      common.Hash  `json:"userOpHash"`
	Status          string       `json:"status"`
	TransactionHash *common.Hash `json:"transactionHash,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

// 推送事件的终态状态值
const (
	StatusIncluded = "included"
	StatusReverted = "reverted"
	StatusRejected = "rejected"
)

// statusSubscription 退订时顺带关闭底层websocket连接
type statusSubscription struct {
	ethereum.Subscription
	conn *rpc.Client
}

func (s *statusSubscription) Unsubscribe() {
	s.Subscription.Unsubscribe()
	s.conn.Close()
}

// SubscribeStatus 通过websocket订阅指定操作的状态推送。
// 每个订阅独占一条连接，Unsubscribe负责关闭
func (c *Client) SubscribeStatus(ctx context.Context, opHash common.Hash, ch chan<- StatusEvent) (ethereum.Subscription, error) {
	if c.wsEndpoint == "" {
		return nil, errors.NewWalletError(errors.ErrorTypeConnection,
			errors.SeverityLow, "WS_NOT_CONFIGURED", "未配置websocket端点")
	}

	conn, err := rpc.DialContext(ctx, c.wsEndpoint)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConnection,
			errors.SeverityMedium, "WS_DIAL_FAILED",
			fmt.Sprintf("连接bundler websocket失败: %s", c.wsEndpoint))
	}

	sub, err := conn.Subscribe(ctx, "eth", ch, "userOperationStatus", opHash)
	if err != nil {
		conn.Close()
		return nil, errors.WrapError(err, errors.ErrorTypeConnection,
			errors.SeverityMedium, "WS_SUBSCRIBE_FAILED", "订阅操作状态失败")
	}

	return &statusSubscription{Subscription: sub, conn: conn}, nil
}
