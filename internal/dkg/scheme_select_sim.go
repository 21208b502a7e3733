//go:build !tss
// +build !tss

package dkg

import "go.uber.org/zap"

// NewScheme returns the Scheme this build was compiled with: the
// same-process simulation, selected by the absence of the tss build tag.
func NewScheme(logger *zap.Logger) Scheme {
	return NewSimScheme(logger)
}
