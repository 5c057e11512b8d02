package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"seedledger/internal/domain"
	"seedledger/internal/store"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// checkStruct runs the struct tags and reports the first failing field as a
// ValidationError.
func (s *Service) checkStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return store.Invalid("request", err.Error())
	}
	fe := fieldErrs[0]
	return store.Invalid(fe.Field(), describeTag(fe))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return store.Invalid(field, "must be greater than 0")
	}
	return requireCents(field, v)
}

func requireNonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return store.Invalid(field, "must not be negative")
	}
	return requireCents(field, v)
}

// Money columns hold two decimal places.
func requireCents(field string, v decimal.Decimal) error {
	if !v.Equal(v.Round(2)) {
		return store.Invalid(field, "must have at most 2 decimal places")
	}
	return nil
}

func requireText(field string, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", store.Invalid(field, "is required")
	}
	return v, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp; empty yields fallback.
func parseDate(field string, raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	if t, err := time.Parse(domain.DateLayout, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, store.Invalid(field, "must be a date in YYYY-MM-DD format")
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
