package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cybertec-postgresql/country_sync/internal/db"
)

// CountryRequest is the body accepted by POST and PATCH. Every field is
// required, so pointers distinguish missing values from zero values.
type CountryRequest struct {
	Name           *string `json:"name" validate:"required,min=3"`
	Region         *string `json:"region" validate:"required,min=3"`
	SubRegion      *string `json:"subRegion" validate:"required,min=3"`
	Demonym        *string `json:"demonym" validate:"required,min=3"`
	Population     *int64  `json:"population" validate:"required,min=0"`
	Independent    *bool   `json:"independent" validate:"required"`
	Flag           *string `json:"flag" validate:"required,min=2,max=8"`
	CurrencyName   *string `json:"currencyName" validate:"required,min=2"`
	CurrencySymbol *string `json:"currencySymbol" validate:"required,min=1"`
}

// apply copies the request onto c; call only after a successful validation
func (r *CountryRequest) apply(c *db.Country) {
	c.Name = *r.Name
	c.Region = *r.Region
	c.Subregion = *r.SubRegion
	c.Demonym = *r.Demonym
	c.Population = *r.Population
	c.Independent = *r.Independent
	c.Flag = *r.Flag
	c.CurrencyName = *r.CurrencyName
	c.CurrencySymbol = *r.CurrencySymbol
}

// FieldErrors maps a JSON field name to a human readable violation
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(fe))
}

// RequestValidator decodes and validates country bodies
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Decode reads a CountryRequest from r. Malformed JSON is returned as a plain
// error; type mismatches, unknown and invalid fields as FieldErrors.
func (v *RequestValidator) Decode(r *http.Request) (*CountryRequest, error) {
	var req CountryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			// empty body, every field is missing
			return nil, v.Validate(&req)
		}
		if fe := decodeFieldError(err); fe != nil {
			return nil, fe
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := v.Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Validate checks req against its struct tags
func (v *RequestValidator) Validate(req *CountryRequest) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fe := make(FieldErrors, len(verrs))
	for _, e := range verrs {
		fe[e.Field()] = violationMessage(e)
	}
	return fe
}

func violationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This value should not be blank."
	case "min":
		if e.Kind() == reflect.String {
			return fmt.Sprintf("This value is too short. It should have %s characters or more.", e.Param())
		}
		return fmt.Sprintf("This value should be greater than or equal to %s.", e.Param())
	case "max":
		return fmt.Sprintf("This value is too long. It should have %s characters or less.", e.Param())
	default:
		return fmt.Sprintf("This value is not valid (%s).", e.Tag())
	}
}

func decodeFieldError(err error) FieldErrors {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return FieldErrors{typeErr.Field: fmt.Sprintf("This value should be of type %s.", jsonTypeName(typeErr.Type))}
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return FieldErrors{strings.Trim(field, `"`): "This field was not expected."}
	}
	return nil
}

func jsonTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Bool:
		return "boolean"
	default:
		return t.Kind().String()
	}
}
