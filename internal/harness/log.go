package harness

import "go.uber.org/zap"

var log = zap.NewNop()

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger *zap.Logger) {
	log = logger
}
