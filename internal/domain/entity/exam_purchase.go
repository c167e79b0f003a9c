package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// UintArray - список ID в JSONB
type UintArray []uint

// Scan реализует интерфейс sql.Scanner для UintArray
func (a *UintArray) Scan(value interface{}) error {
	if value == nil {
		*a = UintArray{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSONB value: expected []byte or string")
	}
	if len(bytes) == 0 {
		*a = UintArray{}
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// Value реализует интерфейс driver.Valuer для UintArray
func (a UintArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// ExamPurchase - запись журнала покупок: какой набор вопросов получил ученик по экзамену
type ExamPurchase struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_exam_purchases_user_exam" json:"user_id"`
	ExamID      uint      `gorm:"not null;uniqueIndex:idx_exam_purchases_user_exam" json:"exam_id"`
	SubjectID   uint      `gorm:"not null;index" json:"subject_id"`
	QuestionIDs UintArray `gorm:"type:jsonb;not null" json:"question_ids"`
	CacheType   string    `gorm:"size:20;not null" json:"cache_type"` // shared / unique
	PurchasedAt time.Time `gorm:"not null;index" json:"purchased_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName определяет имя таблицы для GORM
func (ExamPurchase) TableName() string {
	return "exam_purchases"
}
