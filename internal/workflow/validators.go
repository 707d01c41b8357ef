package workflow

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"pharmacy-service/internal/models"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical form of stored dates
const DateLayout = "2006-01-02"

var dateLayouts = []string{DateLayout, "2006/01/02", "02/01/2006", "02-01-2006"}

// Text accepts trimmed text between min and max runes
func Text(label string, min, max int) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		v := strings.TrimSpace(in.Text)
		n := utf8.RuneCountInString(v)
		if n < min {
			return "", Invalid("%s must be at least %d characters", label, min)
		}
		if max > 0 && n > max {
			return "", Invalid("%s must be at most %d characters", label, max)
		}
		return v, nil
	}
}

// ParseDate reads a date in any accepted layout
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Invalid("%q is not a date, use YYYY-MM-DD", s)
}

// Date accepts a date and stores it as YYYY-MM-DD
func Date() ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		t, err := ParseDate(in.Text)
		if err != nil {
			return "", err
		}
		return t.Format(DateLayout), nil
	}
}

// DateAfter accepts a date strictly later than the date stored under field
func DateAfter(field string) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		t, err := ParseDate(in.Text)
		if err != nil {
			return "", err
		}
		if prev, ok := ws.Fields[field]; ok && prev != "" {
			if p, err := time.Parse(DateLayout, prev); err == nil && !t.After(p) {
				return "", Invalid("date must be after %s", prev)
			}
		}
		return t.Format(DateLayout), nil
	}
}

// Amount accepts a non-negative decimal rounded to two places
func Amount(label string) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(in.Text))
		if err != nil {
			return "", Invalid("%s must be a number", label)
		}
		if d.IsNegative() {
			return "", Invalid("%s cannot be negative", label)
		}
		return d.Round(2).StringFixed(2), nil
	}
}

// SignedAmount accepts any decimal, for relative adjustments
func SignedAmount(label string) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(in.Text))
		if err != nil {
			return "", Invalid("%s must be a number", label)
		}
		if d.IsZero() {
			return "", Invalid("%s cannot be zero", label)
		}
		return d.String(), nil
	}
}

// Int accepts a whole number within [min, max]
func Int(label string, min, max int) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		n, err := strconv.Atoi(strings.TrimSpace(in.Text))
		if err != nil {
			return "", Invalid("%s must be a whole number", label)
		}
		if n < min || n > max {
			return "", Invalid("%s must be between %d and %d", label, min, max)
		}
		return strconv.Itoa(n), nil
	}
}

// Phone accepts numbers matching pattern after stripping spaces and dashes
func Phone(pattern *regexp.Regexp) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		v := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(in.Text))
		if !pattern.MatchString(v) {
			return "", Invalid("%q is not a valid phone number", in.Text)
		}
		return v, nil
	}
}

// OneOf accepts one of the listed values, case-insensitively
func OneOf(choices ...Choice) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		v := strings.TrimSpace(in.Text)
		for _, c := range choices {
			if strings.EqualFold(v, c.Value) || strings.EqualFold(v, c.Label) {
				return c.Value, nil
			}
		}
		return "", Invalid("please choose one of the offered options")
	}
}

// PIN aborts the workflow on a wrong PIN
func PIN(expected string) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		if expected == "" || strings.TrimSpace(in.Text) != expected {
			return "", Abort("incorrect PIN, operation cancelled")
		}
		return "ok", nil
	}
}

// Confirm accepts yes or no; no aborts the workflow
func Confirm(cancelMessage string) ParseFunc {
	return func(ctx context.Context, ws *models.WorkflowSession, in Input) (string, error) {
		switch strings.ToLower(strings.TrimSpace(in.Text)) {
		case "yes", "y", "confirm":
			return "yes", nil
		case "no", "n", "cancel":
			return "", Abort("%s", cancelMessage)
		}
		return "", Invalid("please answer yes or no")
	}
}

// YesNo is the choice set offered by confirmation steps
var YesNo = []Choice{{Label: "Yes", Value: "yes"}, {Label: "No", Value: "no"}}
