// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// GormSession 游戏会话模型
type GormSession struct {
	gorm.Model
	SessionID int64      `gorm:"uniqueIndex;not null"`
	Status    string     `gorm:"not null;default:'waiting'"` // waiting/countdown/playing/completed
	PIN       string     `gorm:"index"`
	StartTime *time.Time
	EndTime   *time.Time
}

// GormCompletionState 完成状态模型
type GormCompletionState struct {
	gorm.Model
	SessionID   int64                  `gorm:"uniqueIndex;not null"`
	RoomsStatus map[string]interface{} `gorm:"type:jsonb;serializer:json;not null"`
	GameWon     bool                   `gorm:"default:false;not null"`
	VictoryTime *time.Time
}

// GormGameEvent 游戏事件审计记录
type GormGameEvent struct {
	gorm.Model
	SessionID int64                  `gorm:"index;not null"`
	Room      string                 `gorm:"index"`
	EventType string                 `gorm:"not null"`
	Payload   map[string]interface{} `gorm:"type:jsonb;serializer:json"`
}
