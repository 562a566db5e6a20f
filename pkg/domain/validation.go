package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var recordValidate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRecord checks struct tags on the record and reports each failing
// field as a blocking violation. A nil record yields an empty result.
func ValidateRecord(rec Record) Result {
	if rec == nil {
		return Result{}
	}
	err := recordValidate.Struct(rec)
	if err == nil {
		return Result{}
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return Result{Violations: []Violation{{
			Rule:     "record_validation",
			Severity: SeverityBlock,
			Message:  err.Error(),
			Entity:   rec.EntityType(),
			EntityID: rec.RecordID(),
		}}}
	}
	res := Result{}
	for _, fe := range fieldErrs {
		res.Violations = append(res.Violations, Violation{
			Rule:     "record_validation",
			Severity: SeverityBlock,
			Message:  describeFieldError(fe),
			Entity:   rec.EntityType(),
			EntityID: rec.RecordID(),
		})
	}
	return res
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
