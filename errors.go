package popx

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
)

const (
	TextCodeMissingConfig = "popx_missing_config"
	TextCodeInvalidConfig = "popx_invalid_config"
	TextCodeNoClient      = "popx_no_client"
	TextCodeInvalidUser   = "popx_invalid_user"
	TextCodeCSRF          = "popx_csrf_rejected"
)

// ErrMissingConfig is returned when the gateway URL or key is not set.
var ErrMissingConfig = errors.New("missing gateway configuration", errors.CategoryValidation).
	WithTextCode(TextCodeMissingConfig).
	WithCode(errors.CodeBadRequest)

// ErrInvalidConfig is returned when a configuration value fails validation.
var ErrInvalidConfig = errors.New("invalid configuration", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(errors.CodeBadRequest)

// ErrNoClient is returned when a handler runs without the client middleware.
var ErrNoClient = errors.New("request has no client", errors.CategoryInternal).
	WithTextCode(TextCodeNoClient).
	WithCode(errors.CodeInternal)

// ErrInvalidUser is returned when the gateway user has no usable subject.
var ErrInvalidUser = errors.New("gateway user has an invalid subject", errors.CategoryInternal).
	WithTextCode(TextCodeInvalidUser).
	WithCode(errors.CodeInternal)

// ErrCSRFRejected is returned when a form post carries a missing or forged
// CSRF token.
var ErrCSRFRejected = errors.New("form submission rejected", errors.CategoryAuthz).
	WithTextCode(TextCodeCSRF).
	WithCode(errors.CodeForbidden)

// IsMissingConfig reports whether err is a missing configuration error.
func IsMissingConfig(err error) bool {
	var rich *errors.Error
	return errors.As(err, &rich) && rich.TextCode == TextCodeMissingConfig
}

// FormatValidationErrorToMap flattens ozzo validation errors into a field to
// message map suitable for templates.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	verrs, ok := err.(validation.Errors)
	if !ok {
		out["form"] = err.Error()
		return out
	}

	for field, ferr := range verrs {
		if ferr == nil {
			continue
		}
		if nested, ok := ferr.(validation.Errors); ok {
			for k, v := range FormatValidationErrorToMap(nested) {
				out[field+"."+k] = v
			}
			continue
		}
		out[field] = capitalize(ferr.Error())
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
