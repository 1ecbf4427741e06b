package logger

import (
	"regexp"
	"strings"
)

// Learner names arrive under these keys from template variables and user
// records.
var nameKeys = map[string]bool{
	"display_name": true,
	"first_name":   true,
	"user_name":    true,
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// RedactEmail masks an address down to the first two characters of its
// local part: "ada.lovelace@school.org" → "ad***@school.org". Local parts
// of two characters or fewer are masked fully.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if r := []rune(local); len(r) > 2 {
		return string(r[:2]) + "***@" + domain
	}
	return "***@" + domain
}

// RedactName keeps only the first character of a learner's name.
func RedactName(name string) string {
	r := []rune(strings.TrimSpace(name))
	if len(r) == 0 {
		return ""
	}
	return string(r[0]) + "***"
}

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "email"), key == "to", key == "recipient":
		return RedactEmail(val)
	case nameKeys[key]:
		return RedactName(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
