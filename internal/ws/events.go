package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	EventJoinRoom       = "joinRoom"
	EventLeaveRoom      = "leaveRoom"
	EventMessage        = "message"
	EventLocationUpdate = "locationUpdate"
)

// Envelope 是双向帧的统一外层结构。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type ChatMessageIn struct {
	RoomID string `json:"roomId"`
	From   UserID `json:"from"`
	To     UserID `json:"to"`
	Text   string `json:"text"`
}

type ChatMessageOut struct {
	From      uint   `json:"from"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type LocationUpdateIn struct {
	Latitude  *Number `json:"latitude"`
	Longitude *Number `json:"longitude"`
}

// UserID 接受 JSON 数字或数字字符串形式的用户 id。
type UserID uint

func (u *UserID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", s)
	}
	*u = UserID(n)
	return nil
}

// Number 接受 JSON 数字或数字字符串。
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*n = Number(f)
	return nil
}

func encode(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// RoomKey 生成两人私聊房间的约定名称，与参数顺序无关。
func RoomKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatUint(uint64(a), 10) + "-" + strconv.FormatUint(uint64(b), 10)
}
