package model

import (
	"io"
	"strings"
	"time"
)

// Opportunity представляет вакансию или волонтёрскую позицию (таблица opportunities)
// Image хранит путь в бакете (например images/1700000000000-ab12cd34ef56.png), а не URL
type Opportunity struct {
	ID          string    `db:"id" json:"id"`
	Position    string    `db:"position" json:"position"`
	Description string    `db:"description" json:"description"`
	Image       *string   `db:"image" json:"image"`
	Link        *string   `db:"link" json:"link"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Fields: набор изменяемых полей записи, передаётся в репозиторий
// Image == nil при обновлении означает «оставить текущее изображение»
type Fields struct {
	Position    string
	Description string
	Link        *string
	Image       *string
}

// ImageFile описывает загружаемый файл изображения
type ImageFile struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// ChangeType: тип изменения строки таблицы
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent: уведомление об изменении таблицы opportunities
// Гарантируется только Type, остальные поля заполняются по возможности
type ChangeEvent struct {
	Type        ChangeType   `json:"type"`
	ID          string       `json:"id,omitempty"`
	Opportunity *Opportunity `json:"opportunity,omitempty"`
	At          time.Time    `json:"at"`
}

// FilterOpportunities возвращает записи, у которых position или description
// содержат query без учёта регистра. Пустой query возвращает исходный список
func FilterOpportunities(list []Opportunity, query string) []Opportunity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}
	out := make([]Opportunity, 0, len(list))
	for _, o := range list {
		if strings.Contains(strings.ToLower(o.Position), q) ||
			strings.Contains(strings.ToLower(o.Description), q) {
			out = append(out, o)
		}
	}
	return out
}

// StringPtr возвращает nil для пустой строки, иначе указатель на неё
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
