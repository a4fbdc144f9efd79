// persistence/interface.go
package persistence

import (
	"fmt"

	"github.com/wfunc/escapehub/models"
)

// Database 数据库接口
type Database interface {
	// CreateSession registers a session id; used by admin tooling and tests.
	CreateSession(sessionID int64, pin string) error
	// SessionExists reports whether the session id is known and still open
	// (no end marker).
	SessionExists(sessionID int64) (bool, error)
	EndSession(sessionID int64) error

	SaveCompletionState(state models.GameCompletionState) error
	LoadCompletionState(sessionID int64) (models.GameCompletionState, error)

	SaveEvent(sessionID int64, room, eventType string, payload map[string]interface{}) error

	Close() error
}

// 错误定义
var (
	ErrRecordNotFound = fmt.Errorf("record not found")
)
