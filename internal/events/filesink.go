package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// FileSink 异步JSONL审计日志。生命周期事件逐行追加到本地文件，
// 供没有Kafka的部署留存操作轨迹。nil接收者所有方法均为no-op
type FileSink struct {
	logger *logrus.Logger
	file   *os.File

	eventChan chan *LifecycleEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
}

// NewFileSink 创建审计日志写入器，文件以追加模式打开
func NewFileSink(path string, logger *logrus.Logger) (*FileSink, error) {
	if logger == nil {
		logger = logrus.New()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开审计日志文件失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sink := &FileSink{
		logger:        logger,
		file:          file,
		eventChan:     make(chan *LifecycleEvent, 1000),
		ctx:           ctx,
		cancel:        cancel,
		batchSize:     100,
		flushInterval: time.Second,
	}

	sink.wg.Add(1)
	go sink.writer()

	logger.Infof("审计日志写入器已初始化: %s", path)
	return sink, nil
}

// writer 批量写入工作器
func (s *FileSink) writer() {
	defer s.wg.Done()

	batch := make([]*LifecycleEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-s.eventChan:
			batch = append(batch, event)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.ctx.Done():
			// 排空通道后写入剩余数据
			for {
				select {
				case event := <-s.eventChan:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						s.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush 批量落盘
func (s *FileSink) flush(batch []*LifecycleEvent) {
	for _, event := range batch {
		if event == nil {
			continue
		}

		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Errorf("序列化审计事件失败: %v", err)
			continue
		}

		data = append(data, '\n')
		if _, err := s.file.Write(data); err != nil {
			s.logger.Errorf("写入审计日志失败: %v", err)
		}
	}
}

// Publish 异步写入事件，通道满时丢弃
func (s *FileSink) Publish(event *LifecycleEvent) {
	if s == nil || event == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case s.eventChan <- event:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("审计日志通道已满，丢弃事件")
	}
}

// PublishSubmitted 写入提交事件
func (s *FileSink) PublishSubmitted(opHash common.Hash, sender common.Address, nonce string) {
	s.Publish(&LifecycleEvent{Type: EventSubmitted, OpHash: opHash, Sender: sender, Nonce: nonce})
}

// PublishTerminal 按终态写入确认/回滚/超时事件
func (s *FileSink) PublishTerminal(eventType string, opHash common.Hash, sender common.Address, txHash *common.Hash, reason string) {
	s.Publish(&LifecycleEvent{Type: eventType, OpHash: opHash, Sender: sender, TxHash: txHash, Reason: reason})
}

// Close 停止写入器并关闭文件
func (s *FileSink) Close() error {
	if s == nil {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	if err := s.file.Sync(); err != nil {
		s.logger.Warnf("同步审计日志失败: %v", err)
	}
	return s.file.Close()
}
