//go:build tools

// Package roomchat declares the tools invoked through go generate so they are
// tracked in go.mod.
package roomchat

import (
	_ "go.uber.org/mock/mockgen"
)
