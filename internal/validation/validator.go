package validation

import (
	"reflect"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-fulfillment-tracker/internal/orders"
)

// New returns a configured validator with the custom tags and struct-level
// checks registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// decimals are validated through their string form
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("money", validateMoney)
	_ = v.RegisterValidation("order_status", validateStatus)

	// ensure a client-supplied total agrees with the line items
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// validateMoney accepts non-negative amounts with at most two decimal places.
func validateMoney(fl validatorv10.FieldLevel) bool {
	d, err := decimal.NewFromString(fl.Field().String())
	if err != nil {
		return false
	}
	return !d.IsNegative() && d.Equal(d.Round(2))
}

func validateStatus(fl validatorv10.FieldLevel) bool {
	_, ok := orders.ParseStatus(fl.Field().String())
	return ok
}

func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)
	if req.ExpectedTotal == nil {
		return
	}
	sum := orders.ComputeTotal(toLineItems(req.LineItems))
	if !sum.Equal(*req.ExpectedTotal) {
		sl.ReportError(req.ExpectedTotal, "expected_total", "ExpectedTotal", "total_matches_items", sum.StringFixed(2))
	}
}
