package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so messages match the stored payloads.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct runs the struct's validate tags and maps failures to ErrValidation.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.Validationf("%v", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fe.Field()+" must satisfy "+fe.Tag()+"="+fe.Param())
		} else {
			msgs = append(msgs, fe.Field()+" must satisfy "+fe.Tag())
		}
	}
	return apperrors.Validationf("%s", strings.Join(msgs, "; "))
}
