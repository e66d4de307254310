package opstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"pqwallet/internal/errors"
	"pqwallet/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/pqwallet.db"

	// 存储桶名称
	PendingBucket  = "pending"
	ArchivedBucket = "archived"
	AccountBucket  = "account"
)

// 操作状态值
const (
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusReverted  = "reverted"
	StatusTimedOut  = "timed_out"
)

// Store 待确认操作的持久化存储。客户端重启后据此恢复确认跟踪，
// 终态操作移入归档桶供status查询
type Store struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// NewStore 创建操作存储
func NewStore(dbPath string, logger *logrus.Logger) (*Store, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if logger == nil {
		logger = logrus.New()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage,
			errors.SeverityHigh, "STORE_DIR_FAILED", "创建数据目录失败")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage,
			errors.SeverityHigh, "STORE_OPEN_FAILED", "打开操作数据库失败")
	}

	store := &Store{
		db:     db,
		logger: logger,
		dbPath: dbPath,
	}

	if err := store.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infof("操作存储已初始化，数据库路径: %s", dbPath)
	return store, nil
}

// initDB 初始化数据库结构
func (s *Store) initDB() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{PendingBucket, ArchivedBucket, AccountBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return errors.WrapError(err, errors.ErrorTypeStorage,
					errors.SeverityHigh, "STORE_INIT_FAILED",
					fmt.Sprintf("创建存储桶 %s 失败", bucket))
			}
		}
		return nil
	})
}

// Put 写入待确认记录
func (s *Store) Put(record *models.PendingOperation) error {
	now := time.Now().Unix()
	if record.CreatedAt == 0 {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	return s.put(PendingBucket, record.OpHash, record)
}

// Resolve 将操作移入终态：从待确认桶删除并写入归档桶
func (s *Store) Resolve(opHash common.Hash, status string, txHash *common.Hash, lastError string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket([]byte(PendingBucket))
		archived := tx.Bucket([]byte(ArchivedBucket))
		if pending == nil || archived == nil {
			return errors.ErrStoreFailed
		}

		var record models.PendingOperation
		if data := pending.Get(opHash.Bytes()); data != nil {
			if err := json.Unmarshal(data, &record); err != nil {
				s.logger.Warnf("解析待确认记录失败: %v", err)
				record = models.PendingOperation{OpHash: opHash}
			}
		} else {
			record = models.PendingOperation{OpHash: opHash}
		}

		record.Status = status
		record.TxHash = txHash
		record.LastError = lastError
		record.UpdatedAt = time.Now().Unix()

		data, err := json.Marshal(&record)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeSerialization,
				errors.SeverityMedium, "STORE_ENCODE_FAILED", "编码操作记录失败")
		}

		if err := archived.Put(opHash.Bytes(), data); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage,
				errors.SeverityHigh, "STORE_FAILED", "归档操作记录失败")
		}
		return pending.Delete(opHash.Bytes())
	})
}

// Get 读取单条记录，待确认桶优先
func (s *Store) Get(opHash common.Hash) (*models.PendingOperation, error) {
	var record *models.PendingOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, bucket := range []string{PendingBucket, ArchivedBucket} {
			b := tx.Bucket([]byte(bucket))
			if b == nil {
				continue
			}
			if data := b.Get(opHash.Bytes()); data != nil {
				var r models.PendingOperation
				if err := json.Unmarshal(data, &r); err != nil {
					return errors.WrapError(err, errors.ErrorTypeSerialization,
						errors.SeverityMedium, "STORE_DECODE_FAILED", "解码操作记录失败")
				}
				record = &r
				return nil
			}
		}
		return nil
	})
	return record, err
}

// Pending 列出所有待确认操作
func (s *Store) Pending() ([]*models.PendingOperation, error) {
	return s.list(PendingBucket)
}

// Archived 列出所有终态操作
func (s *Store) Archived() ([]*models.PendingOperation, error) {
	return s.list(ArchivedBucket)
}

// SetDeployed 持久化账户的已部署标记
func (s *Store) SetDeployed(account common.Address, deployed bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(AccountBucket))
		if bucket == nil {
			return errors.ErrStoreFailed
		}
		value := []byte{0}
		if deployed {
			value[0] = 1
		}
		return bucket.Put(account.Bytes(), value)
	})
}

// IsDeployed 读取账户的已部署标记
func (s *Store) IsDeployed(account common.Address) (bool, error) {
	var deployed bool
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(AccountBucket))
		if bucket == nil {
			return nil
		}
		if data := bucket.Get(account.Bytes()); len(data) == 1 {
			deployed = data[0] == 1
		}
		return nil
	})
	return deployed, err
}

// GetDBPath 获取数据库路径
func (s *Store) GetDBPath() string {
	return s.dbPath
}

// Close 关闭操作存储
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info("关闭操作存储")
		return s.db.Close()
	}
	return nil
}

func (s *Store) put(bucket string, opHash common.Hash, record *models.PendingOperation) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityMedium, "STORE_ENCODE_FAILED", "编码操作记录失败")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return errors.ErrStoreFailed
		}
		if err := b.Put(opHash.Bytes(), data); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage,
				errors.SeverityHigh, "STORE_FAILED", "写入操作记录失败")
		}
		return nil
	})
}

func (s *Store) list(bucket string) ([]*models.PendingOperation, error) {
	records := make([]*models.PendingOperation, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var r models.PendingOperation
			if err := json.Unmarshal(v, &r); err != nil {
				s.logger.Warnf("跳过损坏的操作记录 %x: %v", k, err)
				return nil
			}
			records = append(records, &r)
			return nil
		})
	})
	return records, err
}
