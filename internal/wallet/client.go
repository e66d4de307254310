package wallet

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/bundler"
	"pqwallet/internal/chain"
	"pqwallet/internal/config"
	"pqwallet/internal/errors"
	"pqwallet/internal/events"
	"pqwallet/internal/keys"
	"pqwallet/internal/logging"
	"pqwallet/internal/opstore"
	"pqwallet/internal/retry"
	"pqwallet/internal/shutdown"
	"pqwallet/internal/signer"
	"pqwallet/internal/tracker"
	"pqwallet/internal/userop"
	"pqwallet/internal/validation"
)

// Client 钱包管线的装配点：把密钥材料、构造器、签名器、bundler客户端、
// 链上读取器与确认跟踪器串成quote/send两条入口
type Client struct {
	cfg        *config.Config
	km         *keys.KeyMaterial
	hashEngine *userop.HashEngine
	builder    *userop.Builder
	signer     *signer.DualSigner
	bundler    *bundler.Client
	reader     *chain.Reader
	conn       *chain.Conn
	tracker    *tracker.Tracker
	store      *opstore.Store
	events     *events.Publisher
	audit      *events.FileSink
	validator  *validation.Validator
	logger     *logrus.Logger
	structured *logging.StructuredLogger
	errorStats *errors.ErrorStats

	entryPoint common.Address
}

// NewClient 装配钱包客户端。配置先行校验，关键地址缺失立即失败
func NewClient(cfg *config.Config, km *keys.KeyMaterial, logger *logrus.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if km == nil {
		return nil, errors.NewWalletError(errors.ErrorTypeKeyMaterial,
			errors.SeverityCritical, "KEY_MATERIAL_NIL", "缺少密钥材料")
	}
	if logger == nil {
		logger = logrus.New()
	}

	entryPoint := common.HexToAddress(cfg.Chain.EntryPoint)
	factory := common.HexToAddress(cfg.Chain.Factory)

	hashEngine, err := userop.NewHashEngine(big.NewInt(cfg.Chain.ChainID), entryPoint)
	if err != nil {
		return nil, err
	}

	dualSigner, err := signer.NewDualSigner(km, logger)
	if err != nil {
		return nil, err
	}

	// 结构化日志器从配置装配，初始化失败不阻止钱包启动
	var structured *logging.StructuredLogger
	if cfg.Logging != nil {
		structured, err = logging.NewStructuredLogger(cfg.Logging)
		if err != nil {
			logger.Warnf("初始化结构化日志器失败，仅保留文本日志: %v", err)
			structured = nil
		}
	}

	var observer retry.Observer
	if structured != nil {
		observer = func(operation string, attempt int, err error, delay time.Duration) {
			logging.NewBundlerLogger(structured, operation, cfg.Bundler.URL).Warn(
				"bundler调用退避重试",
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err.Error(),
			)
		}
	}

	bundlerClient := bundler.NewClient(cfg.Bundler.URL, cfg.Bundler.WSURL, &bundler.Options{
		Timeout:    cfg.BundlerTimeout(),
		MaxRetries: cfg.Bundler.MaxRetries,
		Observer:   observer,
	}, logger)

	conn := chain.NewConn(cfg.Chain.RPCURL, logger)

	store, err := opstore.NewStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, err
	}

	var publisher *events.Publisher
	var audit *events.FileSink
	if cfg.Events != nil {
		if len(cfg.Events.Brokers) > 0 {
			publisher, err = events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, logger)
			if err != nil {
				// 事件只是旁路审计，Kafka不可达不阻止钱包启动
				logger.Warnf("事件发布器初始化失败，生命周期事件停用: %v", err)
				publisher = nil
			}
		}
		if cfg.Events.AuditPath != "" {
			audit, err = events.NewFileSink(cfg.Events.AuditPath, logger)
			if err != nil {
				logger.Warnf("审计日志初始化失败，本地事件留存停用: %v", err)
				audit = nil
			}
		}
	}

	return &Client{
		cfg:        cfg,
		km:         km,
		hashEngine: hashEngine,
		builder:    userop.NewBuilder(factory, cfg.Gas.BufferPercent, logger),
		signer:     dualSigner,
		bundler:    bundlerClient,
		reader:     chain.NewReader(conn, entryPoint, factory, logger),
		conn:       conn,
		tracker:    tracker.NewTracker(bundlerClient, logger),
		store:      store,
		events:     publisher,
		audit:      audit,
		validator:  validation.NewValidator(logger, false),
		logger:     logger,
		structured: structured,
		errorStats: errors.NewErrorStats(),
		entryPoint: entryPoint,
	}, nil
}

// ResolveAccount 解析智能账户的反事实地址并恢复本地部署标记。
// 地址由工厂合约确定性计算，重复调用复用首次结果
func (c *Client) ResolveAccount(ctx context.Context) (common.Address, error) {
	if c.km.AccountAddress == (common.Address{}) {
		addr, err := c.reader.WalletAddress(ctx, c.km.PQPublicKey(), c.km.ClassicalAddress)
		if err != nil {
			c.recordError(err, "client")
			return common.Address{}, err
		}
		c.km.AccountAddress = addr
	}

	if deployed, err := c.store.IsDeployed(c.km.AccountAddress); err == nil && deployed {
		c.km.Deployed = true
	}
	return c.km.AccountAddress, nil
}

// Balances 查询账户余额与EntryPoint预存款
func (c *Client) Balances(ctx context.Context) (balance, deposit *big.Int, err error) {
	balance, err = c.reader.Balance(ctx, c.km.AccountAddress)
	if err != nil {
		c.recordError(err, "client")
		return nil, nil, err
	}
	deposit, err = c.reader.Deposit(ctx, c.km.AccountAddress)
	if err != nil {
		c.recordError(err, "client")
		return nil, nil, err
	}
	return balance, deposit, nil
}

// KeyMaterial 返回装配的密钥材料
func (c *Client) KeyMaterial() *keys.KeyMaterial {
	return c.km
}

// Store 返回操作存储（status查询用）
func (c *Client) Store() *opstore.Store {
	return c.store
}

// ErrorStats 返回错误统计
func (c *Client) ErrorStats() *errors.ErrorStats {
	return c.errorStats
}

// recordError 记入错误统计
func (c *Client) recordError(err error, component string) {
	var we *errors.WalletError
	if errors.AsWalletError(err, &we) {
		we.Component = component
		c.errorStats.RecordError(we)
	}
}

// FlushEvents 关闭事件发布器与审计日志，缓冲中的生命周期事件在此刷出
func (c *Client) FlushEvents() error {
	var err error
	if c.events != nil {
		if closeErr := c.events.Close(); closeErr != nil {
			c.logger.Warnf("关闭事件发布器失败: %v", closeErr)
			err = closeErr
		}
	}
	if closeErr := c.audit.Close(); closeErr != nil {
		c.logger.Warnf("关闭审计日志失败: %v", closeErr)
		if err == nil {
			err = closeErr
		}
	}
	return err
}

// RegisterShutdownHandlers 把资源释放按停机顺序挂到停机管理器上：
// 先中断在途管线并等pipelineDone收尾，再刷事件、关存储、销毁密钥、断开连接。
// 走此路径后不要再调用Close
func (c *Client) RegisterShutdownHandlers(gs *shutdown.GracefulShutdown,
	cancelPipeline context.CancelFunc, pipelineDone <-chan struct{}) {

	gs.RegisterShutdownFunc("await_tracking", func(ctx context.Context) error {
		cancelPipeline()
		select {
		case <-pipelineDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, shutdown.OrderAwaitTracking)

	gs.RegisterShutdownFunc("flush_events", func(ctx context.Context) error {
		return c.FlushEvents()
	}, shutdown.OrderFlushEvents)

	gs.RegisterShutdownFunc("close_store", func(ctx context.Context) error {
		return c.store.Close()
	}, shutdown.OrderCloseStore)

	gs.RegisterShutdownFunc("dispose_keys", func(ctx context.Context) error {
		c.km.Dispose()
		return nil
	}, shutdown.OrderDisposeKeys)

	gs.RegisterShutdownFunc("close_connections", func(ctx context.Context) error {
		c.conn.Close()
		return nil
	}, shutdown.OrderCleanupSockets)
}

// Close 释放持有的资源：事件通道、存储、密钥材料与链连接
func (c *Client) Close() error {
	if err := c.FlushEvents(); err != nil {
		c.logger.Warnf("刷新事件通道失败: %v", err)
	}
	err := c.store.Close()
	c.km.Dispose()
	c.conn.Close()
	return err
}
