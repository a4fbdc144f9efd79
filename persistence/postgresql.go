// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// PostgreSQL 驱动
	_ "github.com/lib/pq" // PostgreSQL 驱动

	"github.com/wfunc/escapehub/models"
)

// PostgreSQL 数据库实现（database/sql，不经过GORM）
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 初始化表结构
	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS game_sessions (
            id SERIAL PRIMARY KEY,
            session_id BIGINT UNIQUE NOT NULL,
            status VARCHAR(32) NOT NULL DEFAULT 'waiting',
            pin VARCHAR(16),
            start_time TIMESTAMP,
            end_time TIMESTAMP,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS completion_states (
            id SERIAL PRIMARY KEY,
            session_id BIGINT UNIQUE NOT NULL,
            rooms_status JSONB NOT NULL,
            game_won BOOLEAN NOT NULL DEFAULT FALSE,
            victory_time TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS game_events (
            id SERIAL PRIMARY KEY,
            session_id BIGINT NOT NULL,
            room VARCHAR(64),
            event_type VARCHAR(64) NOT NULL,
            payload JSONB,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )
    `)
	return err
}

// CreateSession 创建游戏会话
func (p *PostgreSQL) CreateSession(sessionID int64, pin string) error {
	_, err := p.db.Exec(
		`INSERT INTO game_sessions (session_id, status, pin) VALUES ($1, 'waiting', $2)`,
		sessionID, pin,
	)
	return err
}

// SessionExists 会话是否存在且未结束
func (p *PostgreSQL) SessionExists(sessionID int64) (bool, error) {
	var endTime sql.NullTime
	err := p.db.QueryRow(
		`SELECT end_time FROM game_sessions WHERE session_id = $1`, sessionID,
	).Scan(&endTime)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !endTime.Valid, nil
}

// EndSession 结束会话
func (p *PostgreSQL) EndSession(sessionID int64) error {
	_, err := p.db.Exec(
		`UPDATE game_sessions SET status = 'completed', end_time = NOW(), updated_at = NOW()
         WHERE session_id = $1`, sessionID,
	)
	return err
}

// SaveCompletionState 保存完成状态（UPSERT）
func (p *PostgreSQL) SaveCompletionState(state models.GameCompletionState) error {
	roomsJSON, err := json.Marshal(state.RoomsStatus)
	if err != nil {
		return err
	}

	_, err = p.db.Exec(`
        INSERT INTO completion_states (session_id, rooms_status, game_won, victory_time, updated_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (session_id) DO UPDATE SET
            rooms_status = EXCLUDED.rooms_status,
            game_won = EXCLUDED.game_won,
            victory_time = EXCLUDED.victory_time,
            updated_at = NOW()
    `, state.SessionID, roomsJSON, state.GameWon, state.VictoryTime)
	return err
}

// LoadCompletionState 加载完成状态
func (p *PostgreSQL) LoadCompletionState(sessionID int64) (models.GameCompletionState, error) {
	var (
		roomsJSON   []byte
		gameWon     bool
		victoryTime sql.NullTime
		updatedAt   time.Time
	)
	err := p.db.QueryRow(`
        SELECT rooms_status, game_won, victory_time, updated_at
        FROM completion_states WHERE session_id = $1
    `, sessionID).Scan(&roomsJSON, &gameWon, &victoryTime, &updatedAt)
	if err == sql.ErrNoRows {
		return models.GameCompletionState{}, ErrRecordNotFound
	}
	if err != nil {
		return models.GameCompletionState{}, err
	}

	var roomsStatus map[string]models.RoomCompletionStatus
	if err := json.Unmarshal(roomsJSON, &roomsStatus); err != nil {
		return models.GameCompletionState{}, err
	}

	state := models.GameCompletionState{
		SessionID:   sessionID,
		RoomsStatus: roomsStatus,
		GameWon:     gameWon,
		UpdatedAt:   updatedAt,
	}
	if victoryTime.Valid {
		t := victoryTime.Time
		state.VictoryTime = &t
	}
	return state, nil
}

// SaveEvent 保存游戏事件
func (p *PostgreSQL) SaveEvent(sessionID int64, room, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = p.db.Exec(`
        INSERT INTO game_events (session_id, room, event_type, payload)
        VALUES ($1, $2, $3, $4)
    `, sessionID, room, eventType, payloadJSON)
	return err
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
