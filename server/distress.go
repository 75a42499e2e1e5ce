package server

import "strings"

// distressPhrases trigger the unsafe flag when found in transcribed
// speech. Matching is case-insensitive substring, translation to
// English happens upstream.
var distressPhrases = []string{
	"help",
	"save me",
	"i need help",
	"please help",
	"i am in danger",
	"someone is attacking me",
	"someone is following me",
	"someone is chasing me",
	"i am scared",
	"call the police",
	"emergency",
}

// IsUnsafe reports whether the text sounds like a call for help.
func IsUnsafe(text string) bool {
	text = strings.ToLower(text)

	for _, phrase := range distressPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}

	return false
}
