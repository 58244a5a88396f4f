// Package validate wraps go-playground/validator with the rules shared by
// the HTTP API and the action dispatcher.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// Rule registers a custom validation on the underlying validator.
type Rule struct {
	Rule func(v *validator.Validate)
}

// Validator checks request and payload structs against their validate tags.
type Validator struct {
	validator *validator.Validate
}

// New returns a Validator with the job rules registered.
func New() *Validator {
	v := &Validator{validator: validator.New()}
	v.Register(JobTypeRule(), JobStatusRule())
	return v
}

// Register adds custom rules.
func (v *Validator) Register(rules ...Rule) {
	for _, r := range rules {
		r.Rule(v.validator)
	}
}

// Struct validates s and flattens field errors into one readable error.
func (v *Validator) Struct(s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("invalid %s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + ": required"
	case "min", "max":
		return fmt.Sprintf("%s: must be %s %s", field, map[string]string{"min": ">=", "max": "<="}[fe.Tag()], fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %q", field, fe.Tag())
	}
}

// JobTypeRule accepts an empty value or a known job type.
func JobTypeRule() Rule {
	return Rule{Rule: func(v *validator.Validate) {
		_ = v.RegisterValidation("jobtype", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || models.JobType(s).Valid()
		})
	}}
}

// JobStatusRule accepts an empty value or a known job status.
func JobStatusRule() Rule {
	return Rule{Rule: func(v *validator.Validate) {
		_ = v.RegisterValidation("jobstatus", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			return s == "" || models.JobStatus(s).Valid()
		})
	}}
}
