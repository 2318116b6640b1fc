package queue

import "strings"

// firstNameToken is the only personalization placeholder the body supports.
const firstNameToken = "{{first_name}}"

// firstNameFallback is substituted when the subscriber has no first name.
const firstNameFallback = "there"

// personalize replaces every first-name token in the body. Substitution is
// literal; a first name containing the token text is inserted as-is and is
// not expanded again.
func personalize(body, firstName string) string {
	if firstName == "" {
		firstName = firstNameFallback
	}
	return strings.ReplaceAll(body, firstNameToken, firstName)
}

// renderHTML produces the final HTML body: personalization first, then
// newline conversion. The order matters: newlines inside a substituted
// first name become <br> tags too.
func renderHTML(body, firstName string) string {
	return strings.ReplaceAll(personalize(body, firstName), "\n", "<br>")
}
