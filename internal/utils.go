package internal

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	EmailRegexTemplate  = `^[\w.\+\.\-]+@([\w\-]+\.)+[\w]{2,}$`
	DefaultPhoneCountry = "ES"
)

var emailRegex = regexp.MustCompile(EmailRegexTemplate)

// ValidEmail helper function allows to validate an email address.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// SanitizeAndVerifyPhoneNumber parses the phone number, using the given
// country as the default region (DefaultPhoneCountry if empty), and returns it
// in E.164 format.
func SanitizeAndVerifyPhoneNumber(phone, country string) (string, error) {
	if country == "" {
		country = DefaultPhoneCountry
	}
	pn, err := phonenumbers.Parse(phone, strings.ToUpper(country))
	if err != nil {
		return "", fmt.Errorf("invalid phone number %s: %w", phone, err)
	}
	if !phonenumbers.IsValidNumber(pn) {
		return "", fmt.Errorf("invalid phone number %s", phone)
	}
	return phonenumbers.Format(pn, phonenumbers.E164), nil
}

// CardDigits strips the separators users type between card number groups.
func CardDigits(number string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, number)
}

// CardLast4 returns the last four digits of a card number, or "" if it is
// shorter than that.
func CardLast4(number string) string {
	digits := CardDigits(number)
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}
