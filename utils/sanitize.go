package utils

import "github.com/microcosm-cc/bluemonday"

// Check-in and comment bodies may carry simple formatting; single-line fields
// such as task titles, leave reasons and signatures are plain text and lose
// all markup.
var (
	bodyPolicy = bluemonday.UGCPolicy()
	textPolicy = bluemonday.StrictPolicy()
)

// Sanitize cleans user-supplied HTML while keeping benign formatting tags.
func Sanitize(input string) string {
	return bodyPolicy.Sanitize(input)
}

// SanitizeText strips every tag, leaving plain text only.
func SanitizeText(input string) string {
	return textPolicy.Sanitize(input)
}
