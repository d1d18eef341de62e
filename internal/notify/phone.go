package notify

import (
	"errors"
	"strings"

	"eventpro/internal/model"
)

// DefaultCountryCode is prepended to national numbers.
const DefaultCountryCode = "54"

var (
	ErrPhoneRequired = errors.New("el número de teléfono es requerido")
	ErrPhoneFormat   = errors.New("formato de teléfono inválido. Debe ser un número argentino válido")
)

// PhoneValidator normalizes phone numbers to the international digits-only
// form expected by the relay.
type PhoneValidator struct {
	CountryCode string
}

func (v PhoneValidator) code() string {
	if v.CountryCode == "" {
		return DefaultCountryCode
	}
	return v.CountryCode
}

// Validate strips every non-digit and normalizes the rest:
//
//	10 digits                     -> code + digits
//	11 digits with a leading 0    -> code + digits[1:]
//	code + 10 digits              -> unchanged
//	code + "9" + 10 digits        -> unchanged (mobile)
//
// Anything else is rejected.
func (v PhoneValidator) Validate(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrPhoneRequired
	}
	digits := onlyDigits(raw)
	code := v.code()

	switch {
	case len(digits) == 10:
		return code + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return code + digits[1:], nil
	case len(digits) == len(code)+10 && strings.HasPrefix(digits, code):
		return digits, nil
	case len(digits) == len(code)+11 && strings.HasPrefix(digits, code+"9"):
		return digits, nil
	default:
		return "", ErrPhoneFormat
	}
}

// ValidatePhone validates raw with the default country code.
func ValidatePhone(raw string) (string, error) {
	return PhoneValidator{}.Validate(raw)
}

// FormatForDisplay formats raw with the default country code.
func FormatForDisplay(raw string) string {
	return PhoneValidator{}.FormatForDisplay(raw)
}

// FormatForDisplay renders a number as "(11) 2345-6789", "+54 11 2345-6789"
// or "+54 9 11 2345-6789", using the validator's country code. Unrecognized
// input is returned unchanged.
func (v PhoneValidator) FormatForDisplay(raw string) string {
	if raw == "" {
		return ""
	}
	d := onlyDigits(raw)
	code := v.code()
	local := func(s string) string { return "(" + s[:2] + ") " + s[2:6] + "-" + s[6:] }
	intl := func(s string) string { return s[:2] + " " + s[2:6] + "-" + s[6:] }

	switch {
	case len(d) == 10:
		return local(d)
	case len(d) == 11 && strings.HasPrefix(d, "0"):
		return local(d[1:])
	case len(d) == len(code)+10 && strings.HasPrefix(d, code):
		return "+" + code + " " + intl(d[len(code):])
	case len(d) == len(code)+11 && strings.HasPrefix(d, code+"9"):
		return "+" + code + " 9 " + intl(d[len(code)+1:])
	}
	return raw
}

// Recipient is a user that can receive relay messages.
type Recipient struct {
	UID   string
	Phone string
	Name  string
}

// Recipients returns the users whose phone validates, with the normalized
// number. Users without a phone are skipped silently.
func (v PhoneValidator) Recipients(users []model.User) []Recipient {
	var out []Recipient
	for _, u := range users {
		if u.Phone == nil || *u.Phone == "" {
			continue
		}
		phone, err := v.Validate(*u.Phone)
		if err != nil {
			continue
		}
		name := u.DisplayName
		if name == "" {
			name = "Usuario"
		}
		out = append(out, Recipient{UID: u.UID, Phone: phone, Name: name})
	}
	return out
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
