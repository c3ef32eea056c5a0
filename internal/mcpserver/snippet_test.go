package mcpserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvidenceSnippet(t *testing.T) {
	chunk := "The tenant may sublet with consent. Rent is due on the first business day. Late rent incurs a fee of 5%. Notices go to the landlord."

	cases := []struct {
		name, query, want string
		max               int
	}{
		{"best two in order", "when is rent due and what late fee applies", "Rent is due on the first business day. Late rent incurs a fee of 5%.", 400},
		{"single match", "who receives notices", "Notices go to the landlord.", 400},
		{"no match falls back to head", "parking spaces", "The tenant may...", 15},
		{"stop words only", "what is the", "The tenant may...", 15},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, evidenceSnippet(chunk, c.query, c.max))
		})
	}
	assert.Empty(t, evidenceSnippet(" \x00 ", "rent", 50))
}
