package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a Vietnamese mobile prefix
	ErrInvalidPrefix = errors.New("phone number must start with 03, 05, 07, 08 or 09")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// operators maps three-digit mobile prefixes to their network
var operators = map[string]string{
	"032": "Viettel", "033": "Viettel", "034": "Viettel", "035": "Viettel",
	"036": "Viettel", "037": "Viettel", "038": "Viettel", "039": "Viettel",
	"086": "Viettel", "096": "Viettel", "097": "Viettel", "098": "Viettel",

	"081": "Vinaphone", "082": "Vinaphone", "083": "Vinaphone", "084": "Vinaphone",
	"085": "Vinaphone", "088": "Vinaphone", "091": "Vinaphone", "094": "Vinaphone",

	"070": "MobiFone", "076": "MobiFone", "077": "MobiFone", "078": "MobiFone",
	"079": "MobiFone", "089": "MobiFone", "090": "MobiFone", "093": "MobiFone",

	"052": "Vietnamobile", "056": "Vietnamobile", "058": "Vietnamobile", "092": "Vietnamobile",

	"059": "Gmobile", "099": "Gmobile",
}

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator handles phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates a Vietnamese mobile number.
// Accepts 0912345678, 091 234 5678, 091-234-5678, +84912345678 or 84912345678.
// Returns the number in national format (digits only).
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	if len(sanitized) != 10 {
		return "", ErrInvalidLength
	}

	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return sanitized, nil
}

// Sanitize strips separators and rewrites the +84 country code to 0
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")
	phone = replacer.Replace(phone)

	if strings.HasPrefix(phone, "84") && len(phone) == 11 {
		phone = "0" + phone[2:]
	}

	return phone
}

// IsValidPrefix checks the three-digit mobile prefix
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if len(phone) < 3 {
		return false
	}
	_, ok := operators[phone[:3]]
	return ok
}

// Format formats a phone number for display: 09X XXX XXXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s %s", sanitized[0:3], sanitized[3:6], sanitized[6:10]), nil
}

// GetOperator returns the mobile network for the number
func (v *PhoneValidator) GetOperator(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return operators[sanitized[:3]], nil
}

// SameNumber reports whether two inputs denote the same valid number
func (v *PhoneValidator) SameNumber(a, b string) bool {
	na, errA := v.Validate(a)
	nb, errB := v.Validate(b)
	return errA == nil && errB == nil && na == nb
}
