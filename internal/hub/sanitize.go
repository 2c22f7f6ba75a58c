package hub

import (
	"fmt"
	"regexp"
	"strings"
)

// The Hub is a third-party system that may log whatever we send it.
// Everything outbound passes through the helpers below: inputs are
// validated and trimmed before the call, and anything PII-bearing is
// masked before it reaches a log line or the audit trail.

const (
	maxNameLength    = 100
	maxAddressLength = 200
	maxLogField      = 120
)

var (
	nonDigits  = regexp.MustCompile(`\D`)
	emailShape = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	multiSpace = regexp.MustCompile(`\s+`)
)

// SanitizeCitizenID validates a citizen document number. The national
// format is exactly 10 digits.
func SanitizeCitizenID(raw string) (int64, error) {
	digits := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	if len(digits) != 10 {
		return 0, fmt.Errorf("citizen id must be 10 digits, got %d", len(digits))
	}
	var id int64
	if _, err := fmt.Sscanf(digits, "%d", &id); err != nil {
		return 0, fmt.Errorf("invalid citizen id")
	}
	return id, nil
}

// SanitizeEmail lowercases, trims and shape-checks an email address.
func SanitizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailShape.MatchString(email) {
		return "", fmt.Errorf("invalid email format")
	}
	return email, nil
}

// SanitizeString trims, collapses inner whitespace and caps length.
func SanitizeString(raw string, maxLength int) string {
	s := multiSpace.ReplaceAllString(strings.TrimSpace(raw), " ")
	if len(s) > maxLength {
		s = s[:maxLength]
	}
	return s
}

// MaskPII hides a sensitive value for logging, keeping the last
// showChars characters ("***4567").
func MaskPII(value string, showChars int) string {
	if value == "" || len(value) <= showChars {
		return "***"
	}
	return "***" + value[len(value)-showChars:]
}

// truncateForLog caps free-text Hub messages before they hit logs or
// the audit trail.
func truncateForLog(s string) string {
	if len(s) > maxLogField {
		return s[:maxLogField]
	}
	return s
}

func (r RegisterCitizenRequest) sanitized() (RegisterCitizenRequest, error) {
	email, err := SanitizeEmail(r.Email)
	if err != nil {
		return RegisterCitizenRequest{}, err
	}
	return RegisterCitizenRequest{
		ID:           r.ID,
		Name:         SanitizeString(r.Name, maxNameLength),
		Address:      SanitizeString(r.Address, maxAddressLength),
		Email:        email,
		OperatorID:   SanitizeString(r.OperatorID, 50),
		OperatorName: SanitizeString(r.OperatorName, maxNameLength),
	}, nil
}

// maskedPayload builds the audit-trail view of a request. Only masked
// or non-identifying fields appear.
func (r RegisterCitizenRequest) maskedPayload() map[string]string {
	return map[string]string{
		"id":         MaskPII(fmt.Sprintf("%d", r.ID), 4),
		"email":      MaskPII(r.Email, 4),
		"operatorId": r.OperatorID,
	}
}

func (r UnregisterCitizenRequest) maskedPayload() map[string]string {
	return map[string]string{
		"id":         MaskPII(fmt.Sprintf("%d", r.ID), 4),
		"operatorId": r.OperatorID,
	}
}

func (r AuthenticateDocumentRequest) sanitized() AuthenticateDocumentRequest {
	return AuthenticateDocumentRequest{
		IDCitizen:     r.IDCitizen,
		URLDocument:   strings.TrimSpace(r.URLDocument),
		DocumentTitle: SanitizeString(r.DocumentTitle, maxNameLength),
	}
}

func (r AuthenticateDocumentRequest) maskedPayload() map[string]string {
	return map[string]string{
		"idCitizen":     MaskPII(fmt.Sprintf("%d", r.IDCitizen), 4),
		"urlDocument":   MaskPII(r.URLDocument, 20),
		"documentTitle": r.DocumentTitle,
	}
}
