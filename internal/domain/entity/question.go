package entity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"slices"
	"time"
)

// StringArray - пользовательский тип для работы с JSONB
type StringArray []string

// Scan реализует интерфейс sql.Scanner для StringArray
func (o *StringArray) Scan(value interface{}) error {
	if value == nil {
		*o = StringArray{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value: expected []byte")
	}
	if len(bytes) == 0 {
		*o = StringArray{}
		return nil
	}
	return json.Unmarshal(bytes, o)
}

// Value реализует интерфейс driver.Valuer для StringArray
func (o StringArray) Value() (driver.Value, error) {
	if len(o) == 0 {
		return []byte("[]"), nil // пустой JSON массив вместо null
	}
	return json.Marshal(o)
}

// Question - вопрос банка экзаменов.
// Движок пулов работает только с ID; содержимое подгружается при выдаче ученику.
type Question struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	SubjectID     uint        `gorm:"not null;index" json:"subject_id"`
	Category      string      `gorm:"size:100;not null;index" json:"category"`
	Difficulty    string      `gorm:"size:20;not null;index" json:"difficulty"`
	Tags          StringArray `gorm:"type:jsonb;not null;default:'[]'" json:"tags"`
	Text          string      `gorm:"size:1000;not null" json:"text"`
	Options       StringArray `gorm:"type:jsonb;not null" json:"options"`
	CorrectOption int         `gorm:"not null" json:"-"` // Скрыто от клиента
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName определяет имя таблицы для GORM
func (Question) TableName() string {
	return "questions"
}

// IsCorrect проверяет, является ли выбранный вариант правильным
func (q *Question) IsCorrect(selectedOption int) bool {
	return selectedOption == q.CorrectOption
}

// OptionsCount возвращает количество вариантов ответа
func (q *Question) OptionsCount() int {
	return len(q.Options)
}

// IsValidOption проверяет, является ли выбранный вариант допустимым
func (q *Question) IsValidOption(selectedOption int) bool {
	return selectedOption >= 0 && selectedOption < len(q.Options)
}

// HasTags проверяет, что у вопроса есть все перечисленные теги
func (q *Question) HasTags(tags []string) bool {
	for _, tag := range tags {
		if !slices.Contains(q.Tags, tag) {
			return false
		}
	}
	return true
}

// OrderByIDs упорядочивает вопросы в порядке ids; отсутствующие ID пропускаются
func OrderByIDs(questions []Question, ids []uint) []Question {
	byID := make(map[uint]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	ordered := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			ordered = append(ordered, q)
		}
	}
	return ordered
}
