// Package testing holds helpers shared by package tests.
package testing

import (
	"math/rand"
	"strings"
)

const charSet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet
func RandString() string {
	var out strings.Builder
	for i := 0; i < 10; i++ {
		out.WriteByte(charSet[rand.Intn(len(charSet))])
	}
	return out.String()
}

// RandEmail returns a unique-enough address for registration tests
func RandEmail() string {
	return strings.ToLower(RandString()) + "@example.com"
}
