// persistence/gorm_postgresql.go
package persistence

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/escapehub/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移表结构
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// autoMigrate 自动迁移表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormSession{},
		&models.GormCompletionState{},
		&models.GormGameEvent{},
	)
}

// CreateSession 创建游戏会话
func (p *GormPostgreSQL) CreateSession(sessionID int64, pin string) error {
	session := models.GormSession{
		SessionID: sessionID,
		Status:    "waiting",
		PIN:       pin,
	}
	return p.db.Create(&session).Error
}

// SessionExists 会话是否存在且未结束
func (p *GormPostgreSQL) SessionExists(sessionID int64) (bool, error) {
	var session models.GormSession
	err := p.db.Where("session_id = ?", sessionID).First(&session).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.EndTime == nil, nil
}

// EndSession 结束会话
func (p *GormPostgreSQL) EndSession(sessionID int64) error {
	now := time.Now()
	return p.db.Model(&models.GormSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{"status": "completed", "end_time": &now}).Error
}

// SaveCompletionState 保存完成状态（UPSERT）
func (p *GormPostgreSQL) SaveCompletionState(state models.GameCompletionState) error {
	roomsStatus, err := roomsStatusToMap(state.RoomsStatus)
	if err != nil {
		return err
	}

	var row models.GormCompletionState
	result := p.db.Where("session_id = ?", state.SessionID).First(&row)

	if result.Error == gorm.ErrRecordNotFound {
		row = models.GormCompletionState{
			SessionID:   state.SessionID,
			RoomsStatus: roomsStatus,
			GameWon:     state.GameWon,
			VictoryTime: state.VictoryTime,
		}
		return p.db.Create(&row).Error
	} else if result.Error != nil {
		return result.Error
	}

	row.RoomsStatus = roomsStatus
	row.GameWon = state.GameWon
	row.VictoryTime = state.VictoryTime
	row.UpdatedAt = time.Now()
	return p.db.Save(&row).Error
}

// LoadCompletionState 加载完成状态
func (p *GormPostgreSQL) LoadCompletionState(sessionID int64) (models.GameCompletionState, error) {
	var row models.GormCompletionState
	if err := p.db.Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return models.GameCompletionState{}, ErrRecordNotFound
		}
		return models.GameCompletionState{}, err
	}

	roomsStatus, err := roomsStatusFromMap(row.RoomsStatus)
	if err != nil {
		return models.GameCompletionState{}, err
	}

	return models.GameCompletionState{
		SessionID:   row.SessionID,
		RoomsStatus: roomsStatus,
		GameWon:     row.GameWon,
		VictoryTime: row.VictoryTime,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// SaveEvent 保存游戏事件
func (p *GormPostgreSQL) SaveEvent(sessionID int64, room, eventType string, payload map[string]interface{}) error {
	event := models.GormGameEvent{
		SessionID: sessionID,
		Room:      room,
		EventType: eventType,
		Payload:   payload,
	}
	return p.db.Create(&event).Error
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// roomsStatusToMap converts typed room status into the jsonb row shape.
func roomsStatusToMap(status map[string]models.RoomCompletionStatus) (map[string]interface{}, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func roomsStatusFromMap(raw map[string]interface{}) (map[string]models.RoomCompletionStatus, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var out map[string]models.RoomCompletionStatus
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
