package id

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate_Length(t *testing.T) {
	assert.Len(t, Generate(), 16)
	assert.Len(t, GenerateToken(), 48)
}

func TestGenerate_ValidCharacters(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9]+$`)
	id := Generate()
	assert.True(t, valid.MatchString(id), "id contains invalid characters: %q", id)
}

func TestGenerate_Unique(t *testing.T) {
	a := GenerateToken()
	b := GenerateToken()
	assert.NotEqual(t, a, b, "two consecutive calls produced the same token")
}
