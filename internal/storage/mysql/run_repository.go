package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunRecord 表示一次训练运行的落库结构。
type RunRecord struct {
	RunID      string `json:"run_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
	Summary    string `json:"summary"`
}

// MetricRecord 表示运行期间记录的一条指标观测。
type MetricRecord struct {
	RunID    string  `json:"run_id"`
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Step     int64   `json:"step"`
	LoggedAt int64   `json:"logged_at"`
}

// 运行状态取值。
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"
)

// RunRepository 抽象运行记录的持久化接口。
type RunRepository interface {
	CreateRun(ctx context.Context, record RunRecord) error
	FinishRun(ctx context.Context, runID, status, summary string, finishedAt int64) error
	AppendMetrics(ctx context.Context, records []MetricRecord) error
	ListRecent(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// ErrUnsupportedDriver 在配置了未知存储驱动时返回。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// JournalRunRepository 使用本地 JSON 行文件模拟 MySQL 的效果，方便迭代开发。
type JournalRunRepository struct {
	mu          sync.RWMutex
	runsFile    string
	metricsFile string
	runs        []RunRecord
}

// NewJournalRunRepository 创建一个文件日志运行仓库。
func NewJournalRunRepository(dataDir string) (*JournalRunRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &JournalRunRepository{
		runsFile:    filepath.Join(dataDir, "runs.log"),
		metricsFile: filepath.Join(dataDir, "metrics.log"),
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// CreateRun 以追加写的方式记录新运行。
func (j *JournalRunRepository) CreateRun(_ context.Context, record RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := appendJSONLine(j.runsFile, record); err != nil {
		return err
	}

	j.runs = append([]RunRecord{record}, j.runs...)
	if len(j.runs) > 512 {
		j.runs = j.runs[:512]
	}
	return nil
}

// FinishRun 追加一条终态记录，读取时以最后一条为准。
func (j *JournalRunRepository) FinishRun(_ context.Context, runID, status, summary string, finishedAt int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var updated RunRecord
	found := false
	for idx, run := range j.runs {
		if run.RunID != runID {
			continue
		}
		run.Status = status
		run.Summary = summary
		run.FinishedAt = finishedAt
		j.runs[idx] = run
		updated = run
		found = true
		break
	}
	if !found {
		updated = RunRecord{RunID: runID, Status: status, Summary: summary, FinishedAt: finishedAt}
		j.runs = append([]RunRecord{updated}, j.runs...)
	}
	return appendJSONLine(j.runsFile, updated)
}

// AppendMetrics 将指标观测追加到指标日志。
func (j *JournalRunRepository) AppendMetrics(_ context.Context, records []MetricRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.metricsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开指标日志失败: %w", err)
	}
	defer file.Close()

	for _, record := range records {
		encoded, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("序列化指标记录失败: %w", err)
		}
		if _, err := file.Write(append(encoded, '\n')); err != nil {
			return fmt.Errorf("写入指标日志失败: %w", err)
		}
	}
	return nil
}

// ListRecent 返回最近的运行记录，按开始时间倒序排列。
func (j *JournalRunRepository) ListRecent(_ context.Context, limit int) ([]RunRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if limit <= 0 || limit > len(j.runs) {
		limit = len(j.runs)
	}

	results := make([]RunRecord, limit)
	copy(results, j.runs[:limit])
	return results, nil
}

// Close 对文件日志仓库没有需要释放的资源。
func (j *JournalRunRepository) Close() error { return nil }

func (j *JournalRunRepository) loadFromDisk() error {
	file, err := os.OpenFile(j.runsFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取运行日志失败: %w", err)
	}
	defer file.Close()

	// 同一 run_id 可能出现多条，后写入的覆盖先写入的。
	latest := make(map[string]int)
	var restored []RunRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record RunRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if idx, ok := latest[record.RunID]; ok {
			restored[idx] = record
			continue
		}
		latest[record.RunID] = len(restored)
		restored = append(restored, record)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析运行日志失败: %w", err)
	}

	for i, n := 0, len(restored); i < n/2; i++ {
		restored[i], restored[n-1-i] = restored[n-1-i], restored[i]
	}
	if len(restored) > 512 {
		restored = restored[:512]
	}
	if len(restored) > 0 {
		j.runs = restored
	}
	return nil
}

func appendJSONLine(path string, value any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开运行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化运行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入运行日志失败: %w", err)
	}
	return nil
}

// SQLRunRepository 使用真实的 MySQL 数据库存储运行信息。
type SQLRunRepository struct {
	db *sql.DB
}

// NewSQLRunRepository 创建连接池并执行内嵌迁移。
func NewSQLRunRepository(ctx context.Context, cfg Config) (*SQLRunRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLRunRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// CreateRun 将新运行写入 MySQL。
func (s *SQLRunRepository) CreateRun(ctx context.Context, record RunRecord) error {
	const stmt = `INSERT INTO runs (run_id, name, status, started_at, finished_at, summary)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.RunID,
		record.Name,
		record.Status,
		record.StartedAt,
		record.FinishedAt,
		record.Summary,
	); err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}
	return nil
}

// FinishRun 更新运行的终态与总结。
func (s *SQLRunRepository) FinishRun(ctx context.Context, runID, status, summary string, finishedAt int64) error {
	const stmt = `UPDATE runs SET status = ?, summary = ?, finished_at = ? WHERE run_id = ?`

	if _, err := s.db.ExecContext(ctx, stmt, status, summary, finishedAt, runID); err != nil {
		return fmt.Errorf("更新运行记录失败: %w", err)
	}
	return nil
}

// AppendMetrics 批量写入指标观测。
func (s *SQLRunRepository) AppendMetrics(ctx context.Context, records []MetricRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启指标写入事务失败: %w", err)
	}

	const stmt = `INSERT INTO run_metrics (run_id, name, value, step, logged_at) VALUES (?, ?, ?, ?, ?)`
	for _, record := range records {
		if _, err := tx.ExecContext(ctx, stmt, record.RunID, record.Name, record.Value, record.Step, record.LoggedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入指标记录失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交指标写入事务失败: %w", err)
	}
	return nil
}

// ListRecent 查询最近的若干条运行记录。
func (s *SQLRunRepository) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT run_id, name, status, started_at, finished_at, summary
        FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		if err := rows.Scan(&record.RunID, &record.Name, &record.Status, &record.StartedAt, &record.FinishedAt, &record.Summary); err != nil {
			return nil, fmt.Errorf("解析运行记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历运行记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRunRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ RunRepository = (*JournalRunRepository)(nil)
var _ RunRepository = (*SQLRunRepository)(nil)

// NowUnix 返回当前秒级时间戳，抽出来便于测试替换。
var NowUnix = func() int64 { return time.Now().Unix() }
