package utils

import "strings"

// MaskEmail keeps the first character of the local part and the domain:
// "jane.doe@example.com" becomes "j*******@example.com".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return strings.Repeat("*", len(email))
	}
	local := email[:at]
	if len(local) == 1 {
		return "*" + email[at:]
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + email[at:]
}
