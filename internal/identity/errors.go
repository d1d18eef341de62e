package identity

import (
	"errors"

	"eventpro/internal/common"
)

// Error codes reported by SignUp and SignIn.
const (
	CodeEmailInUse    = "email-in-use"
	CodeUsernameInUse = "username-in-use"
	CodeWrongPassword = "wrong-password"
	CodeUserNotFound  = "user-not-found"
	CodeWeakPassword  = "weak-password"
	CodeInvalidEmail  = "invalid-email"
)

var messages = map[string]string{
	CodeEmailInUse:    "El correo electrónico ya está en uso",
	CodeUsernameInUse: "El nombre de usuario ya está en uso",
	CodeWrongPassword: "Contraseña incorrecta",
	CodeUserNotFound:  "El usuario no existe",
	CodeWeakPassword:  "La contraseña es muy débil",
	CodeInvalidEmail:  "Email inválido",
}

const defaultMessage = "Error de autenticación"

// AuthError is an identity failure with a stable code.
type AuthError struct {
	Code string
}

func (e *AuthError) Error() string { return "auth/" + e.Code }

// Unwrap lets callers classify the failure with errors.Is/As.
func (e *AuthError) Unwrap() error {
	switch e.Code {
	case CodeEmailInUse, CodeUsernameInUse:
		return common.ErrConflict
	case CodeWrongPassword, CodeUserNotFound:
		return common.ErrUnauthorized
	case CodeWeakPassword, CodeInvalidEmail:
		return &common.ValidationError{Problems: []string{messages[e.Code]}}
	}
	return nil
}

func authErr(code string) error { return &AuthError{Code: code} }

// Message maps err to the user-facing text for its code. Errors without a
// known code yield their own message, or a generic one when empty.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		if m, ok := messages[ae.Code]; ok {
			return m
		}
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return defaultMessage
}
