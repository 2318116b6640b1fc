package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersonalize(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		firstName string
		want      string
	}{
		{
			name:      "replaces token",
			body:      "Hi {{first_name}}!",
			firstName: "Ada",
			want:      "Hi Ada!",
		},
		{
			name:      "replaces every occurrence",
			body:      "{{first_name}}, yes you, {{first_name}}",
			firstName: "Ada",
			want:      "Ada, yes you, Ada",
		},
		{
			name:      "empty first name falls back",
			body:      "Hi {{first_name}}!",
			firstName: "",
			want:      "Hi there!",
		},
		{
			name:      "no token leaves body untouched",
			body:      "Hello friend",
			firstName: "Ada",
			want:      "Hello friend",
		},
		{
			name:      "substitution is literal not recursive",
			body:      "Hi {{first_name}}",
			firstName: "{{first_name}}",
			want:      "Hi {{first_name}}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, personalize(tt.body, tt.firstName))
		})
	}
}

func TestRenderHTML(t *testing.T) {
	got := renderHTML("Hi {{first_name}},\n\nwelcome", "Ada")
	assert.Equal(t, "Hi Ada,<br><br>welcome", got)
}

func TestRenderHTML_NewlineInFirstName(t *testing.T) {
	// Personalization runs before newline conversion, so injected newlines
	// are converted as well.
	got := renderHTML("Hi {{first_name}}", "A\nda")
	assert.Equal(t, "Hi A<br>da", got)
}
