package application

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/example/club-scheduler/internal/recurrence"
)

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := recurrence.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	return v
}

// firstViolation converts the first validator failure into a ValidationError
// of the given kind. Field names are reported in snake case under prefix.
func firstViolation(err error, kind ValidationKind, prefix string) *ValidationError {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Kind: kind, Field: strings.TrimSuffix(prefix, "."), Code: "invalid", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{
		Kind:   kind,
		Field:  prefix + toSnake(fe.Field()),
		Code:   tagCode(fe.Tag()),
		Reason: tagReason(fe),
	}
}

func tagCode(tag string) string {
	switch tag {
	case "required", "required_if":
		return "required"
	case "oneof":
		return "invalid_choice"
	case "hhmm":
		return "invalid_time"
	case "datetime":
		return "invalid_date"
	case "timezone":
		return "invalid_timezone"
	case "min", "max", "gt", "gte", "lt", "lte":
		return "out_of_range"
	case "unique":
		return "duplicate"
	}
	return "invalid"
}

func tagReason(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "hhmm":
		return "must be a time in HH:MM format"
	case "datetime":
		return "must be a date in YYYY-MM-DD format"
	case "timezone":
		return "must be an IANA timezone name"
	case "min", "gte":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max", "lte":
		if isString {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "lt":
		return "must be less than " + fe.Param()
	case "unique":
		return "must not contain duplicates"
	}
	return "is invalid"
}

// toSnake turns a Go field name such as "DaysOfWeek[2]" or "ClubID" into
// "days_of_week[2]" or "club_id".
func toSnake(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
