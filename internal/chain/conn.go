package chain

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
)

// Conn 单端点以太坊连接持有者：懒拨号、缓存客户端、
// 健康检查失败时丢弃重连
type Conn struct {
	url    string
	logger *logrus.Logger

	mu        sync.Mutex
	client    *ethclient.Client
	lastCheck time.Time
}

// 健康检查间隔，窗口内不重复探测
const healthCheckInterval = 30 * time.Second

// NewConn 创建连接持有者，不立即拨号
func NewConn(url string, logger *logrus.Logger) *Conn {
	if logger == nil {
		logger = logrus.New()
	}
	return &Conn{url: url, logger: logger}
}

// Client 返回健康的客户端，必要时拨号或重连
func (c *Conn) Client(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if time.Since(c.lastCheck) < healthCheckInterval {
			return c.client, nil
		}
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := c.client.ChainID(checkCtx)
		cancel()
		if err == nil {
			c.lastCheck = time.Now()
			return c.client, nil
		}
		c.logger.Warnf("节点 %s 健康检查失败，重连: %v", c.url, err)
		c.client.Close()
		c.client = nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, c.url)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConnection,
			errors.SeverityHigh, "NODE_DIAL_FAILED", "连接以太坊节点失败")
	}
	if _, err := client.ChainID(dialCtx); err != nil {
		client.Close()
		return nil, errors.WrapError(err, errors.ErrorTypeConnection,
			errors.SeverityHigh, "NODE_UNRESPONSIVE", "以太坊节点无响应")
	}

	c.client = client
	c.lastCheck = time.Now()
	c.logger.Infof("已连接以太坊节点 %s", c.url)
	return client, nil
}

// Close 关闭底层连接
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}
