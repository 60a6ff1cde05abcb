package db

import "time"

// BotLink 把聊天机器人的会话 ID 绑定到 Flowly 用户。
type BotLink struct {
	ID        uint   `gorm:"primaryKey"`
	ChatID    int64  `gorm:"uniqueIndex;not null"`
	UserID    string `gorm:"size:64;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
