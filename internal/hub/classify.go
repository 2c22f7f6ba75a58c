package hub

import "strings"

// outcomeClass is the classified result of one HTTP exchange with the
// Hub. Transient outcomes are eligible for retry, business outcomes
// never are.
type outcomeClass int

const (
	classSuccess outcomeClass = iota
	classBusiness
	classTransient
)

// businessPatterns are lowercase substrings of Hub messages that mark
// a domain rejection regardless of the status code the Hub happened to
// choose. The Hub's free-text messages are Spanish; keep this table as
// the single place that knows them.
var businessPatterns = []string{
	"ya se encuentra registrado",
	"ya existe",
	"no se encuentra registrado",
	"error de parametros",
	"error de parámetros",
	"id no valido",
	"id no válido",
}

func matchesBusinessPattern(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range businessPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classify maps an HTTP status plus the Hub's free-text message onto
// an outcome class. Status-code-only logic is not enough: the Hub
// returns some failures as 2xx with an error message in the body, and
// reports "already registered" as 501. Unknown failure shapes classify
// transient so we retry instead of guessing success.
func classify(status int, message string) outcomeClass {
	switch {
	case status == 204:
		// No content. For validateCitizen this is the "citizen not
		// known" answer; for the rest it is an empty success.
		return classSuccess
	case status >= 200 && status < 300:
		if matchesBusinessPattern(message) {
			return classBusiness
		}
		return classSuccess
	case status == 501:
		// The Hub uses 501 for parameter and state errors. Retrying
		// cannot change the answer.
		return classBusiness
	case status >= 400 && status < 500:
		return classBusiness
	default:
		return classTransient
	}
}
