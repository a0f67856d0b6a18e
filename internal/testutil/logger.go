// Package testutil holds helpers shared by package tests.
package testutil

import (
	"go.uber.org/zap"
)

// NewTestLogger creates a logger that discards output, suitable for tests.
func NewTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
