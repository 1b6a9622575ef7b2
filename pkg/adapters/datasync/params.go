package datasync

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ekaya-inc/ekaya-datasync/pkg/apperrors"
)

var validate = newValidator()

// newValidator reports fields by their json names, which are the parameter keys.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeParams copies a parameter map into a tagged struct and validates it.
// Validation failures wrap apperrors.ErrInvalidConfig.
func DecodeParams(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidConfig, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}
