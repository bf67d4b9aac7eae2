package models

import (
	"strings"
	"time"
)

type User struct {
	ID           uint    `gorm:"primaryKey"`
	Email        string  `gorm:"uniqueIndex;size:255;not null"`
	Username     string  `gorm:"size:64;not null"`
	PasswordHash *string `json:"-"`
	GoogleID     *string `gorm:"uniqueIndex;size:64" json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Donor 是用户的献血者档案，每个用户至多一条。
// Latitude 与 Longitude 要么同时为空，要么同时存在。
type Donor struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"uniqueIndex;not null"`
	FullName   string `gorm:"size:128;not null"`
	Age        int
	Gender     string `gorm:"size:16"`
	BloodGroup string `gorm:"index;size:3;not null"`
	Phone      string `gorm:"size:32"`
	City       string `gorm:"size:128"`
	Latitude   *float64
	Longitude  *float64
	Available  bool `gorm:"not null;default:false"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasLocation 报告档案是否带有完整坐标。
func (d Donor) HasLocation() bool {
	return d.Latitude != nil && d.Longitude != nil
}

type Message struct {
	ID         uint      `gorm:"primaryKey"`
	SenderID   uint      `gorm:"index:idx_msg_pair,priority:1;not null"`
	ReceiverID uint      `gorm:"index:idx_msg_pair,priority:2;index;not null"`
	Body       string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// BloodGroups 列出档案与检索允许的全部血型。
var BloodGroups = []string{"A+", "A-", "B+", "B-", "AB+", "AB-", "O+", "O-"}

// ParseBloodGroup 规范化输入的血型。
// 查询串里未转义的 "+" 会被解码成空格，这里还原回来。
func ParseBloodGroup(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimLeft(raw, " "))
	s = strings.ReplaceAll(s, " ", "+")
	for _, bg := range BloodGroups {
		if s == bg {
			return bg, true
		}
	}
	return "", false
}
