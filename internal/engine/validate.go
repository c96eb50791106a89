package engine

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"tradebridge/internal/domain"
)

// OrderRequest carries the order parameters checked before anything is sent
// to the broker.
type OrderRequest struct {
	Symbol          string        `json:"symbol" validate:"required"`
	Action          domain.Action `json:"action" validate:"oneof=BUY SELL"`
	OrderType       string        `json:"order_type" validate:"required"`
	TotalQuantity   float64       `json:"total_quantity" validate:"gt=0"`
	LmtPrice        *float64      `json:"lmt_price"`
	AuxPrice        *float64      `json:"aux_price"`
	TrailingPercent *float64      `json:"trailing_percent"`
	TrailStopPrice  *float64      `json:"trail_stop_price"`
	OCAType         int           `json:"oca_type" validate:"omitempty,oneof=1 2 3"`
}

// ValidationResult is the outcome of Validate. Warnings do not make a request
// invalid.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Err returns a *ValidationError when the result is invalid, nil otherwise.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

var (
	validate     *validator.Validate
	onceValidate sync.Once
)

func orderValidator() *validator.Validate {
	onceValidate.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		validate.RegisterStructValidation(orderTypeRules, OrderRequest{})
	})
	return validate
}

// orderTypeRules applies the price requirements of each order type.
func orderTypeRules(sl validator.StructLevel) {
	r := sl.Current().Interface().(OrderRequest)
	switch r.OrderType {
	case domain.OrderTypeLimit:
		if r.LmtPrice == nil {
			sl.ReportError(r.LmtPrice, "lmt_price", "LmtPrice", "lmt_required", r.OrderType)
		}
	case domain.OrderTypeStop:
		if r.AuxPrice == nil {
			sl.ReportError(r.AuxPrice, "aux_price", "AuxPrice", "aux_required", r.OrderType)
		}
	case domain.OrderTypeStopLimit:
		if r.AuxPrice == nil {
			sl.ReportError(r.AuxPrice, "aux_price", "AuxPrice", "aux_required", r.OrderType)
		}
		if r.LmtPrice == nil {
			sl.ReportError(r.LmtPrice, "lmt_price", "LmtPrice", "lmt_required", r.OrderType)
		}
	case domain.OrderTypeTrail, domain.OrderTypeTrailLimit:
		if (r.AuxPrice == nil) == (r.TrailingPercent == nil) {
			sl.ReportError(r.AuxPrice, "aux_price", "AuxPrice", "trail_exclusive", r.OrderType)
		}
	}
}

// Validate checks r without any I/O and reports every violation at once.
// Unknown order types pass with a warning, since the broker accepts types
// this package has no rules for.
func Validate(r OrderRequest) ValidationResult {
	res := ValidationResult{Valid: true}
	if r.OrderType != "" && !domain.KnownOrderType(r.OrderType) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unrecognized order type %q passed through to broker", r.OrderType))
	}

	err := orderValidator().Struct(r)
	if err == nil {
		return res
	}
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		res.Valid = false
		res.Errors = []string{err.Error()}
		return res
	}
	res.Valid = false
	for _, fe := range ves {
		res.Errors = append(res.Errors, describe(fe))
	}
	return res
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "oneof":
		if fe.Field() == "oca_type" {
			return "oca_type must be 1 (cancel with block), 2 (reduce with block) or 3 (reduce without block)"
		}
		return fmt.Sprintf("%s must be one of %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "lmt_required":
		return fe.Param() + " orders require lmt_price"
	case "aux_required":
		return fe.Param() + " orders require aux_price"
	case "trail_exclusive":
		return fe.Param() + " orders require exactly one of aux_price or trailing_percent"
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
