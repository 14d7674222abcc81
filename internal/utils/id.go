package utils

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateNanoID returns a random lowercase alphanumeric id of the given length.
func GenerateNanoID(length int) string {
	id, err := gonanoid.Generate(idAlphabet, length)
	if err != nil {
		panic(err)
	}
	return id
}

// GenerateNanoIDWithPrefix returns prefix + "_" + a random id.
func GenerateNanoIDWithPrefix(prefix string, length int) string {
	return prefix + "_" + GenerateNanoID(length)
}
