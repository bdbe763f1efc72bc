package models

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("order_status", func(fl validator.FieldLevel) bool {
			return OrderStatus(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Validate checks a record against its struct tags and returns a single
// error listing every failing field.
func Validate(record any) error {
	err := validatorInstance().Struct(record)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fieldPath(fe), message(fe)))
	}
	return &ValidationError{Messages: msgs}
}

// ValidateLineItems rejects an empty request or any invalid line item.
func ValidateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return &ValidationError{Messages: []string{"line_items: at least one line item is required"}}
	}
	var msgs []string
	for i := range items {
		if err := Validate(&items[i]); err != nil {
			for _, m := range err.(*ValidationError).Messages {
				msgs = append(msgs, fmt.Sprintf("line_items[%d].%s", i, m))
			}
		}
	}
	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

// ValidateDataset validates every record of a dataset.
func ValidateDataset(ds *Dataset) error {
	for i := range ds.Customers {
		if err := Validate(&ds.Customers[i]); err != nil {
			return fmt.Errorf("customers[%d]: %w", i, err)
		}
	}
	for i := range ds.Products {
		if err := Validate(&ds.Products[i]); err != nil {
			return fmt.Errorf("products[%d]: %w", i, err)
		}
	}
	for i := range ds.Orders {
		if err := Validate(&ds.Orders[i]); err != nil {
			return fmt.Errorf("orders[%d]: %w", i, err)
		}
	}
	for i := range ds.OrderItems {
		if err := Validate(&ds.OrderItems[i]); err != nil {
			return fmt.Errorf("order_items[%d]: %w", i, err)
		}
	}
	return nil
}

type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// fieldPath drops the struct name from the namespace: "Customer.address.city"
// becomes "address.city".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "order_status":
		return fmt.Sprintf("must be one of %v", Statuses)
	default:
		return "failed " + fe.Tag()
	}
}
