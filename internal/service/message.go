package service

import (
	"context"
	"errors"
	"time"

	"liveblood/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装聊天消息的落库与历史查询。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是对外输出的消息数据。
type MessageDTO struct {
	ID         uint      `json:"id"`
	SenderID   uint      `json:"sender_id"`
	ReceiverID uint      `json:"receiver_id"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatPartner 是给当前用户发过消息的对方。
type ChatPartner struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Save 追加一条消息，sentAt 为毫秒精度的服务端时间，统一存为 UTC。
func (s *MessageService) Save(ctx context.Context, from, to uint, text string, sentAt time.Time) error {
	msg := models.Message{
		SenderID:   from,
		ReceiverID: to,
		Body:       text,
		CreatedAt:  time.UnixMilli(sentAt.UnixMilli()).UTC(),
	}
	return s.db.WithContext(ctx).Create(&msg).Error
}

// History 返回两人之间的全部消息，按时间升序。
func (s *MessageService) History(ctx context.Context, a, b uint) ([]MessageDTO, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{ID: m.ID, SenderID: m.SenderID, ReceiverID: m.ReceiverID, Body: m.Body, CreatedAt: m.CreatedAt})
	}
	return out, nil
}

// Partners 列出给 userID 发过消息的用户。
func (s *MessageService) Partners(ctx context.Context, userID uint) ([]ChatPartner, error) {
	out := make([]ChatPartner, 0)
	err := s.db.WithContext(ctx).Table("messages AS m").
		Distinct("u.id", "u.username").
		Joins("JOIN users u ON u.id = m.sender_id").
		Where("m.receiver_id = ?", userID).
		Order("u.username").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PartnerName 返回对方用户名，查不到时退回 "Donor"。
func (s *MessageService) PartnerName(ctx context.Context, userID uint) (string, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "username").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "Donor", nil
	}
	if err != nil {
		return "", err
	}
	return user.Username, nil
}
