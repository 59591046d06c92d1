package credentials

import (
	"errors"
	"fmt"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// SignupPayload carries the attributes accepted at registration.
type SignupPayload struct {
	Email                string `json:"email"`
	Username             string `json:"username"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

func (p SignupPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&p.Username, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 40)),
		validation.Field(
			&p.PasswordConfirmation,
			validation.Required,
			validation.By(ValidateStringEquals(p.Password)),
		),
	)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrors flattens an ozzo validation result into the
// human readable message list surfaced to callers.
func FormatValidationErrors(err error) ValidationErrors {
	if err == nil {
		return nil
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return NewValidationErrors(err.Error())
	}

	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	for _, field := range fields {
		messages = append(messages, fmt.Sprintf("%s %s", field, verrs[field].Error()))
	}

	return NewValidationErrors(messages...)
}
