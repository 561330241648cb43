package gateway

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeAuthFailed      = "gateway_auth_failed"
	TextCodeBadRequest      = "gateway_bad_request"
	TextCodeRecordNotFound  = "gateway_record_not_found"
	TextCodeUnavailable     = "gateway_unavailable"
	TextCodeInvalidResponse = "gateway_invalid_response"
	TextCodeNoSession       = "gateway_no_session"
	TextCodeInvalidConfig   = "gateway_invalid_config"
	TextCodeInvalidToken    = "gateway_invalid_token"
)

// ErrAuthFailed is returned when the gateway rejects credentials or tokens.
var ErrAuthFailed = errors.New("gateway authentication failed", errors.CategoryAuth).
	WithTextCode(TextCodeAuthFailed).
	WithCode(errors.CodeUnauthorized)

// ErrBadRequest is returned for any other 4xx response.
var ErrBadRequest = errors.New("gateway rejected request", errors.CategoryBadInput).
	WithTextCode(TextCodeBadRequest).
	WithCode(errors.CodeBadRequest)

// ErrRecordNotFound is returned when a single row lookup matched nothing.
var ErrRecordNotFound = errors.New("gateway record not found", errors.CategoryNotFound).
	WithTextCode(TextCodeRecordNotFound).
	WithCode(errors.CodeNotFound)

// ErrUnavailable is returned on transport failures and 5xx responses.
var ErrUnavailable = errors.New("gateway unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeUnavailable).
	WithCode(errors.CodeInternal)

// ErrInvalidResponse is returned when a response body can not be decoded.
var ErrInvalidResponse = errors.New("gateway returned an invalid response", errors.CategoryInternal).
	WithTextCode(TextCodeInvalidResponse).
	WithCode(errors.CodeInternal)

// ErrNoSession is returned by calls that need an authenticated session.
var ErrNoSession = errors.New("no active session", errors.CategoryAuth).
	WithTextCode(TextCodeNoSession).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidConfig is returned by New when the base URL or key is missing.
var ErrInvalidConfig = errors.New("invalid gateway configuration", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidConfig).
	WithCode(errors.CodeBadRequest)

// ErrInvalidToken is returned when an access token fails verification.
var ErrInvalidToken = errors.New("invalid access token", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(errors.CodeUnauthorized)

// GatewayError captures the details of a failed gateway call. Description
// holds the human readable message exactly as the gateway sent it.
type GatewayError struct {
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
	Raw         map[string]any
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "gateway error"
	}

	scope := "gateway"
	if e.Operation != "" {
		scope = "gateway " + e.Operation
	}

	if e.Description != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s failed: %s", scope, http.StatusText(e.Status))
	}
	return scope + " failed"
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *GatewayError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	if len(e.Raw) > 0 {
		meta["raw"] = e.Raw
	}
	return meta
}

func wrapGatewayError(base *errors.Error, err error) error {
	if base == nil {
		return err
	}

	meta := map[string]any{}
	var gerr *GatewayError
	if stderrors.As(err, &gerr) && gerr != nil {
		for k, v := range gerr.Metadata() {
			meta[k] = v
		}
	} else if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// parseErrorBody decodes the different error shapes used by the auth and
// rest endpoints into a GatewayError.
func parseErrorBody(op string, status int, body []byte) *GatewayError {
	gerr := &GatewayError{Operation: op, Status: status}

	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
			gerr.Description = text
		}
		return gerr
	}
	gerr.Raw = raw

	for _, key := range []string{"msg", "error_description", "message"} {
		if v, ok := raw[key].(string); ok && v != "" {
			gerr.Description = v
			break
		}
	}

	for _, key := range []string{"error_code", "code", "error"} {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				gerr.Code = v
			}
		case float64:
			gerr.Code = fmt.Sprintf("%d", int(v))
		}
		if gerr.Code != "" {
			break
		}
	}

	if gerr.Description == "" {
		if v, ok := raw["error"].(string); ok {
			gerr.Description = v
		}
	}
	return gerr
}

// classify picks the sentinel for a failed response.
func classify(op string, gerr *GatewayError) *errors.Error {
	switch {
	case gerr.Code == "PGRST116":
		return ErrRecordNotFound
	case gerr.Status >= 500:
		return ErrUnavailable
	case gerr.Status == http.StatusNotFound || gerr.Status == http.StatusNotAcceptable:
		if op == OpQueryByPK {
			return ErrRecordNotFound
		}
		return ErrBadRequest
	case gerr.Status == http.StatusUnauthorized, gerr.Status == http.StatusForbidden:
		return ErrAuthFailed
	case gerr.Status == http.StatusBadRequest, gerr.Status == http.StatusUnprocessableEntity:
		if strings.HasPrefix(op, "auth.") {
			return ErrAuthFailed
		}
		return ErrBadRequest
	default:
		return ErrBadRequest
	}
}

func richError(err error) *errors.Error {
	var rich *errors.Error
	if errors.As(err, &rich) {
		return rich
	}
	return nil
}

func gatewayError(err error) *GatewayError {
	var gerr *GatewayError
	if stderrors.As(err, &gerr) {
		return gerr
	}
	if rich := richError(err); rich != nil && rich.Source != nil {
		if stderrors.As(rich.Source, &gerr) {
			return gerr
		}
	}
	return nil
}

func hasTextCode(err error, code string) bool {
	rich := richError(err)
	return rich != nil && rich.TextCode == code
}

// IsNotFound reports whether err is a single row lookup that matched nothing.
func IsNotFound(err error) bool {
	return hasTextCode(err, TextCodeRecordNotFound)
}

// IsAuthFailed reports whether the gateway rejected the credentials or token.
func IsAuthFailed(err error) bool {
	return hasTextCode(err, TextCodeAuthFailed) || hasTextCode(err, TextCodeInvalidToken)
}

// IsUnavailable reports a transport failure or a 5xx response.
func IsUnavailable(err error) bool {
	return hasTextCode(err, TextCodeUnavailable)
}

// Message returns the message the gateway sent for err, falling back to the
// error text.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if gerr := gatewayError(err); gerr != nil {
		if gerr.Description != "" {
			return gerr.Description
		}
		if gerr.Err != nil {
			return gerr.Err.Error()
		}
		return gerr.Error()
	}
	if rich := richError(err); rich != nil && rich.Message != "" {
		return rich.Message
	}
	return err.Error()
}
