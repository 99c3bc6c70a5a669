package store

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid marks input rejected before it reaches the database.
var ErrInvalid = errors.New("invalid input")

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// ValidationError lists the rejected fields and the rule each one broke.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "invalid input (" + strings.Join(parts, ", ") + ")"
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func (n NewIdea) Validate() error {
	return asValidationError(validate.Struct(n))
}

// Validate checks only the fields present in the patch. Rank is rejected,
// not clamped, when it falls outside [MinRank, MaxRank].
func (p IdeaPatch) Validate() error {
	fields := map[string]string{}
	if p.Title.Set && validate.Var(p.Title.Value, "notblank") != nil {
		fields["title"] = "notblank"
	}
	if p.Description.Set && validate.Var(p.Description.Value, "notblank") != nil {
		fields["description"] = "notblank"
	}
	if p.Rank.Set && validate.Var(p.Rank.Value, "min=1,max=10") != nil {
		fields["rank"] = "range"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		tag := fe.Tag()
		if tag == "min" || tag == "max" {
			tag = "range"
		}
		fields[fe.Field()] = tag
	}
	return &ValidationError{Fields: fields}
}
