package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	driver "github.com/go-sql-driver/mysql"

	xerrors "AgentTx-ERC20/internal/errors"
)

// 转账状态
const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
	StatusDenied    = "denied"
)

const memoryLimit = 512

// TransferRecord 表示一次工具调用的落库结构。
type TransferRecord struct {
	ID           int64  `json:"id"`
	InvocationID string `json:"invocation_id"`
	TxHash       string `json:"tx_hash,omitempty"`
	Delegator    string `json:"delegator,omitempty"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"token_address"`
	ChainID      int64  `json:"chain_id,omitempty"`
	RPCURL       string `json:"rpc_url,omitempty"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	// CreatedAt 为毫秒时间戳。
	CreatedAt int64 `json:"created_at"`
}

// TransferRepository 抽象转账账本的持久化接口。
type TransferRepository interface {
	Save(ctx context.Context, record TransferRecord) error
	ListLatest(ctx context.Context, limit int) ([]TransferRecord, error)
}

// MemoryTransferRepository 把记录追加写入本地 JSON 行文件，方便开发调试。
type MemoryTransferRepository struct {
	mu       sync.RWMutex
	dataFile string
	nextID   int64
	records  []TransferRecord
}

// NewMemoryTransferRepository 创建文件账本，并恢复最近的记录。
func NewMemoryTransferRepository(dataDir string) (*MemoryTransferRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &MemoryTransferRepository{dataFile: filepath.Join(dataDir, "transfers.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录一次调用。相同调用 ID 重复写入会被忽略。
func (m *MemoryTransferRepository) Save(_ context.Context, record TransferRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.InvocationID == record.InvocationID {
			return nil
		}
	}

	m.nextID++
	record.ID = m.nextID
	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化转账记录失败")
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开转账日志失败")
	}
	defer file.Close()
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入转账日志失败")
	}

	m.records = append([]TransferRecord{record}, m.records...)
	if len(m.records) > memoryLimit {
		m.records = m.records[:memoryLimit]
	}
	return nil
}

// ListLatest 返回最近的记录，按写入时间倒序排列。
func (m *MemoryTransferRepository) ListLatest(_ context.Context, limit int) ([]TransferRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]TransferRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryTransferRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取转账日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []TransferRecord
	for scanner.Scan() {
		var record TransferRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]TransferRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析转账日志失败")
	}

	if len(restored) > memoryLimit {
		restored = restored[:memoryLimit]
	}
	m.records = restored
	return nil
}

// SQLTransferRepository 使用 MySQL 存储转账账本。
type SQLTransferRepository struct {
	db *sql.DB
}

// NewSQLTransferRepository 创建连接池并执行迁移。
func NewSQLTransferRepository(ctx context.Context, cfg Config) (*SQLTransferRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行账本迁移失败")
	}
	return &SQLTransferRepository{db: db}, nil
}

const insertTransferSQL = `INSERT INTO transfers
    (invocation_id, tx_hash, delegator, recipient, amount, token_address, chain_id, rpc_url, status, error_code, error_message, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Save 写入一条记录。唯一键冲突说明该调用已记账，按成功处理。
func (s *SQLTransferRepository) Save(ctx context.Context, record TransferRecord) error {
	txHash := sql.NullString{String: record.TxHash, Valid: record.TxHash != ""}
	_, err := s.db.ExecContext(ctx, insertTransferSQL,
		record.InvocationID,
		txHash,
		record.Delegator,
		record.To,
		record.Amount,
		record.TokenAddress,
		record.ChainID,
		record.RPCURL,
		record.Status,
		record.ErrorCode,
		record.ErrorMessage,
		record.CreatedAt,
	)
	if err == nil {
		return nil
	}
	var mysqlErr *driver.MySQLError
	if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 MySQL 失败",
		xerrors.WithMetadata("invocation_id", record.InvocationID),
		xerrors.WithMetadata("tx_hash", record.TxHash))
}

// ListLatest 查询最近的若干条记录。
func (s *SQLTransferRepository) ListLatest(ctx context.Context, limit int) ([]TransferRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, invocation_id, tx_hash, delegator, recipient, amount, token_address, chain_id, rpc_url, status, error_code, error_message, created_at
    FROM transfers ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询转账记录失败")
	}
	defer rows.Close()

	var records []TransferRecord
	for rows.Next() {
		var (
			record  TransferRecord
			txHash  sql.NullString
			message sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.InvocationID, &txHash, &record.Delegator, &record.To, &record.Amount,
			&record.TokenAddress, &record.ChainID, &record.RPCURL, &record.Status, &record.ErrorCode, &message, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析转账记录失败")
		}
		record.TxHash = txHash.String
		record.ErrorMessage = message.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历转账记录失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLTransferRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("关闭 MySQL 连接失败: %w", err)
	}
	return nil
}
