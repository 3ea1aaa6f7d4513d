package utils

import (
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"slotkeeper/models"
)

var titleCaser = cases.Title(language.English)

// NormalizePhone converts a loosely formatted number into E.164.
// Ten-digit numbers are assumed to be North American.
func NormalizePhone(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", Validation("phone number is empty")
	}

	var digits strings.Builder
	for _, r := range trimmed {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
		}
	}
	d := digits.String()

	switch {
	case strings.HasPrefix(trimmed, "+") && len(d) >= 8 && len(d) <= 15:
		return "+" + d, nil
	case strings.HasPrefix(d, "00") && len(d) >= 10 && len(d) <= 17:
		return "+" + d[2:], nil
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	}
	return "", Validation("phone number " + raw + " is not a valid E.164 number")
}

// NormalizeName collapses whitespace and title-cases each word.
func NormalizeName(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return titleCaser.String(strings.ToLower(strings.Join(fields, " ")))
}

// NormalizeEmail lowercases and validates an address.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return "", Validation("email is empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", Validation("email " + raw + " is not valid")
	}
	return trimmed, nil
}

// NormalizeContact normalizes every populated field. At least one of phone or email is required.
func NormalizeContact(in models.ContactInfo) (models.ContactInfo, error) {
	out := models.ContactInfo{Name: NormalizeName(in.Name)}

	if strings.TrimSpace(in.Phone) != "" {
		phone, err := NormalizePhone(in.Phone)
		if err != nil {
			return models.ContactInfo{}, err
		}
		out.Phone = phone
	}
	if strings.TrimSpace(in.Email) != "" {
		email, err := NormalizeEmail(in.Email)
		if err != nil {
			return models.ContactInfo{}, err
		}
		out.Email = email
	}
	if !out.Reachable() {
		return models.ContactInfo{}, Validation("contact needs a phone number or an email")
	}
	return out, nil
}
