package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// 生命周期事件类型
const (
	EventSubmitted = "operation_submitted"
	EventConfirmed = "operation_confirmed"
	EventReverted  = "operation_reverted"
	EventTimedOut  = "operation_timed_out"
)

// LifecycleEvent 操作生命周期事件
type LifecycleEvent struct {
	Type      string         `json:"type"`
	OpHash    common.Hash    `json:"op_hash"`
	Sender    common.Address `json:"sender"`
	Nonce     string         `json:"nonce"`
	TxHash    *common.Hash   `json:"tx_hash,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher 异步生命周期事件发布器。nil接收者所有方法均为no-op，
// 未配置Kafka的部署直接传nil
type Publisher struct {
	logger      *logrus.Logger
	topic       string
	producer    sarama.AsyncProducer
	successChan <-chan *sarama.ProducerMessage
	errorChan   <-chan *sarama.ProducerError
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	sentCount  int64
	errorCount int64
	mu         sync.RWMutex
}

// NewPublisher 创建异步事件发布器
func NewPublisher(brokers []string, topic string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	logger.Infof("初始化事件发布器，brokers: %v, topic: %s", brokers, topic)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Version = sarama.V2_8_0_0

	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		logger:      logger,
		topic:       topic,
		producer:    producer,
		successChan: producer.Successes(),
		errorChan:   producer.Errors(),
		ctx:         ctx,
		cancel:      cancel,
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.handleSuccesses()
	}()
	go func() {
		defer p.wg.Done()
		p.handleErrors()
	}()

	logger.Info("事件发布器已启动")
	return p, nil
}

// handleSuccesses 处理成功发送的消息
func (p *Publisher) handleSuccesses() {
	for {
		select {
		case success := <-p.successChan:
			if success != nil {
				p.mu.Lock()
				p.sentCount++
				p.mu.Unlock()
				p.logger.Debugf("事件已发送到 topic %s, partition %d, offset %d",
					success.Topic, success.Partition, success.Offset)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// handleErrors 处理发送失败的消息
func (p *Publisher) handleErrors() {
	for {
		select {
		case err := <-p.errorChan:
			if err != nil {
				p.mu.Lock()
				p.errorCount++
				p.mu.Unlock()
				p.logger.Errorf("事件发送失败: topic=%s, error=%v", err.Msg.Topic, err.Err)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// Publish 异步发布事件。发布失败只记日志，不阻断发送主流程
func (p *Publisher) Publish(event *LifecycleEvent) {
	if p == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Errorf("序列化事件失败: %v", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		// 同一操作的事件落在同一分区，保持顺序
		Key:   sarama.StringEncoder(event.OpHash.Hex()),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
	case <-p.ctx.Done():
		p.logger.Debug("事件发布器已关闭，丢弃事件")
	default:
		p.logger.Warn("事件发布器输入通道已满，丢弃事件")
	}
}

// PublishSubmitted 发布提交事件
func (p *Publisher) PublishSubmitted(opHash common.Hash, sender common.Address, nonce string) {
	p.Publish(&LifecycleEvent{Type: EventSubmitted, OpHash: opHash, Sender: sender, Nonce: nonce})
}

// PublishTerminal 按终态发布确认/回滚/超时事件
func (p *Publisher) PublishTerminal(eventType string, opHash common.Hash, sender common.Address, txHash *common.Hash, reason string) {
	p.Publish(&LifecycleEvent{Type: eventType, OpHash: opHash, Sender: sender, TxHash: txHash, Reason: reason})
}

// GetStats 获取发送统计
func (p *Publisher) GetStats() (sent, failed int64) {
	if p == nil {
		return 0, 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sentCount, p.errorCount
}

// Close 关闭发布器，尽量等待缓冲消息发完
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.logger.Info("关闭事件发布器...")

	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
drain:
	for len(p.producer.Input()) > 0 {
		select {
		case <-ticker.C:
		case <-deadline:
			p.logger.Warn("等待缓冲消息超时，部分事件可能丢失")
			break drain
		}
	}

	p.cancel()
	err := p.producer.Close()
	p.wg.Wait()

	sent, failed := p.sentCount, p.errorCount
	p.logger.Infof("事件发布器已关闭，总计发送: %d，失败: %d", sent, failed)
	return err
}
