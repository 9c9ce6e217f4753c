package id

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a 16-character nanoid used for agent, session and
// lock identifiers.
func Generate() string {
	return generate(16)
}

// GenerateToken returns a 48-character nanoid used for auth tokens.
func GenerateToken() string {
	return generate(48)
}

func generate(n int) string {
	id, err := gonanoid.Generate(alphabet, n)
	if err != nil {
		panic(fmt.Sprintf("generate nanoid: %v", err))
	}
	return id
}
