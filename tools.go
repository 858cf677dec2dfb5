//go:build tools
// +build tools

// Package tools tracks the code generators run by go generate (mockgen).
package groupchat

import (
	_ "go.uber.org/mock/mockgen"
)
