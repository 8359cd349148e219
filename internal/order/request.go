package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/redstone/orderflow/internal/fault"
)

type ItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity"  validate:"gt=0"`
}

// CreateRequest is the body of a create-order call.
type CreateRequest struct {
	CustomerID string        `json:"customerId" validate:"required"`
	Items      []ItemRequest `json:"items"      validate:"required,min=1,dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate returns every violated constraint, or nil.
func (r CreateRequest) Validate() []fault.Violation {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fault.Violation{{Field: "body", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]fault.Violation, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		out = append(out, fault.Violation{
			Field:   field,
			Rule:    fe.Tag(),
			Message: violationMessage(field, fe),
		})
	}
	return out
}

func violationMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must contain at least %s item", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func (r CreateRequest) items() []Item {
	items := make([]Item, len(r.Items))
	for i, it := range r.Items {
		items[i] = Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return items
}

type rawRequest struct {
	CustomerID json.RawMessage `json:"customerId"`
	Items      json.RawMessage `json:"items"`
}

type rawItem struct {
	ProductID json.RawMessage `json:"productId"`
	Quantity  json.RawMessage `json:"quantity"`
}

// DecodeRequest reads a CreateRequest. Malformed JSON and wrongly typed
// fields come back as validation errors. When a field has the wrong type
// the rest of the request is still validated, so the caller sees every
// problem at once.
func DecodeRequest(body io.Reader) (CreateRequest, error) {
	var (
		req CreateRequest
		raw rawRequest
	)
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return req, fault.Validation("decode order request", []fault.Violation{{
			Field:   "body",
			Rule:    "json",
			Message: "request body must be a JSON object",
		}})
	}

	var typed []fault.Violation
	decodeField(raw.CustomerID, &req.CustomerID, "customerId", &typed)

	var items []json.RawMessage
	decodeField(raw.Items, &items, "items", &typed)
	if items != nil {
		req.Items = make([]ItemRequest, len(items))
	}
	for i, rawElem := range items {
		field := fmt.Sprintf("items[%d]", i)
		var it rawItem
		if !decodeField(rawElem, &it, field, &typed) {
			continue
		}
		decodeField(it.ProductID, &req.Items[i].ProductID, field+".productId", &typed)
		decodeField(it.Quantity, &req.Items[i].Quantity, field+".quantity", &typed)
	}
	if len(typed) == 0 {
		return req, nil
	}

	vs := typed
	for _, v := range req.Validate() {
		if !coveredBy(v.Field, typed) {
			vs = append(vs, v)
		}
	}
	return req, fault.Validation("decode order request", vs)
}

// decodeField unmarshals one JSON value into dst. An absent value leaves dst
// untouched; a mistyped one is recorded against field.
func decodeField(raw json.RawMessage, dst any, field string, vs *[]fault.Violation) bool {
	if len(raw) == 0 {
		return true
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		*vs = append(*vs, fault.Violation{
			Field:   field,
			Rule:    "type",
			Message: fmt.Sprintf("%s must be %s", field, jsonKind(reflect.TypeOf(dst).Elem())),
		})
		return false
	}
	return true
}

// coveredBy reports whether field, or a parent of it, already has a type
// violation.
func coveredBy(field string, typed []fault.Violation) bool {
	for _, v := range typed {
		if field == v.Field ||
			strings.HasPrefix(field, v.Field+".") ||
			strings.HasPrefix(field, v.Field+"[") {
			return true
		}
	}
	return false
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "an integer"
	case reflect.String:
		return "a string"
	case reflect.Slice:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return t.String()
	}
}
