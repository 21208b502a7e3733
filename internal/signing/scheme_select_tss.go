//go:build tss
// +build tss

package signing

import "go.uber.org/zap"

// NewScheme returns the Scheme this build was compiled with: the real
// tss-lib-backed protocol, selected by the tss build tag.
func NewScheme(logger *zap.Logger) Scheme {
	return NewTSSScheme(logger)
}
