package models

import (
	"fmt"
	"strings"
)

// WindowKey identifies one usage window: a model and a windowed limit kind.
type WindowKey struct {
	Model string
	Kind  LimitKind
}

// NewWindowKey builds a key from a normalized model name.
func NewWindowKey(model string, kind LimitKind) WindowKey {
	return WindowKey{Model: NormalizeModel(model), Kind: kind}
}

func (k WindowKey) String() string {
	return fmt.Sprintf("%s:%s", k.Model, k.Kind)
}

// NormalizeModel trims surrounding whitespace from a model identifier.
func NormalizeModel(model string) string {
	return strings.TrimSpace(model)
}
