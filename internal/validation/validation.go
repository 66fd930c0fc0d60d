// Package validation centralises go-playground/validator struct-tag checks
// shared by the reservation and auction request types, plus the custom
// validators neither engine's inputs can express with bare tags.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global validator instance, mirroring the one-validator-per-process pattern.
var validate *validator.Validate

func init() {
	validate = validator.New()
	if err := validate.RegisterValidation("positive_money", validatePositiveMoney); err != nil {
		panic(fmt.Sprintf("validation: register positive_money: %v", err))
	}
}

// validatePositiveMoney rejects zero/negative minor-unit amounts carried as
// int64 fields (bid amounts, prices) — struct tags alone can't express this
// without also excluding the zero value from unrelated fields.
func validatePositiveMoney(fl validator.FieldLevel) bool {
	return fl.Field().Int() > 0
}

// Struct runs struct-tag validation and, on failure, flattens the result
// into a single human-readable message — callers wrap it in a BadRequest
// corerr.Error rather than leaking validator's own error type.
func Struct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}
