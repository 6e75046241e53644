package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ValidationSeparator joins field level messages of a validation failure.
const ValidationSeparator = "; "

var dupKeyField = regexp.MustCompile(`dup key: \{ ?"?([A-Za-z0-9_.]+)"?\s*:`)

// Normalize maps any error onto the taxonomy. Library specific errors are
// translated; anything unknown becomes an internal error wrapping the cause.
func Normalize(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}

	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) {
		return FromValidationError(err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return FromDuplicateKeyError(err)
	}
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return New(CodeNotFound, "", err)
	}
	if stderrors.Is(err, bson.ErrInvalidHex) {
		return FromInvalidIDError("id", err)
	}
	if isTokenError(err) {
		return FromTokenError(err)
	}
	if stderrors.Is(err, ErrUnavailable) {
		return ServiceUnavailable("", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return GatewayTimeout("Request timed out", err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return New(CodeBadRequest, "Malformed JSON body", err)
	}

	return Internal("", err)
}

// FromValidationError converts validator field errors into a single 422
// error whose message lists every field message.
func FromValidationError(err error) *ServiceError {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return New(CodeValidationFailed, err.Error(), err)
	}

	messages := make([]string, 0, len(verrs))
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := fieldMessage(fe)
		messages = append(messages, msg)
		fields[fe.Field()] = msg
	}

	return New(CodeValidationFailed, strings.Join(messages, ValidationSeparator), err).
		WithDetails("fields", fields)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "maxbytes":
		return fmt.Sprintf("%s must be at most %s bytes", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag())
	}
}

// FromDuplicateKeyError converts a unique index violation into a 409.
func FromDuplicateKeyError(err error) *ServiceError {
	field := ""
	if m := dupKeyField.FindStringSubmatch(err.Error()); len(m) == 2 {
		field = m[1]
	}
	if field == "" {
		return New(CodeConflict, "Duplicate value", err)
	}
	return New(CodeConflict, fmt.Sprintf("Duplicate value for field %s", field), err).
		WithDetails("field", field)
}

// FromInvalidIDError converts a malformed identifier into a 400.
func FromInvalidIDError(field string, err error) *ServiceError {
	return New(CodeBadRequest, fmt.Sprintf("Invalid %s format", field), err).
		WithDetails("field", field)
}

// FromTokenError converts a jwt verification failure into a 401.
func FromTokenError(err error) *ServiceError {
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		return New(CodeUnauthorized, "Token expired", err)
	}
	return InvalidToken(err)
}

func isTokenError(err error) bool {
	for _, target := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenExpired,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenInvalidClaims,
	} {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}
