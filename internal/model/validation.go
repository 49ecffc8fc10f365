package model

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation: общий признак ошибки валидации, проверяется через errors.Is
var ErrValidation = errors.New("validation failed")

// ValidationError несёт сообщение для оператора
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Сообщения совпадают с теми, что возвращает API
const (
	MsgFieldsRequired = "Position and description required"
	MsgImageRequired  = "Image is required for new opportunity"
	MsgIDRequired     = "id is required for edit"
	MsgDeleteID       = "id required"
)

// SubmitInput: данные формы создания/редактирования
type SubmitInput struct {
	Position    string     `validate:"required"`
	Description string     `validate:"required"`
	Link        string     `validate:"omitempty"`
	IsEdit      bool       `validate:"-"`
	ID          string     `validate:"required_if=IsEdit true"`
	Image       *ImageFile `validate:"required_if=IsEdit false"`
}

var validate = validator.New()

// Normalize обрезает пробелы в текстовых полях
func (in *SubmitInput) Normalize() {
	in.Position = strings.TrimSpace(in.Position)
	in.Description = strings.TrimSpace(in.Description)
	in.Link = strings.TrimSpace(in.Link)
	in.ID = strings.TrimSpace(in.ID)
}

// Validate проверяет форму после Normalize
// Порядок проверок: текстовые поля, изображение (создание), id (редактирование)
func (in *SubmitInput) Validate() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	failed := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		failed[fe.Field()] = true
	}
	switch {
	case failed["Position"] || failed["Description"]:
		field := "Position"
		if !failed["Position"] {
			field = "Description"
		}
		return &ValidationError{Field: field, Message: MsgFieldsRequired}
	case failed["Image"]:
		return &ValidationError{Field: "Image", Message: MsgImageRequired}
	case failed["ID"]:
		return &ValidationError{Field: "ID", Message: MsgIDRequired}
	}
	return &ValidationError{Field: verrs[0].Field(), Message: verrs[0].Error()}
}
