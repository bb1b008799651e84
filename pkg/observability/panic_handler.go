package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack trace. Call
// it directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "refresh token cleanup")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
	}
}

// RecoverPanicToError recovers from a panic, logs it and stores it in errp.
//
//	func run() (err error) {
//		defer observability.RecoverPanicToError(logger, "cleanup job", &err)
//		...
//	}
func RecoverPanicToError(logger *Logger, context string, errp *error) {
	if r := recover(); r != nil {
		logPanic(logger, context, r)
		if errp != nil {
			*errp = fmt.Errorf("panic in %s: %v", context, r)
		}
	}
}

func logPanic(logger *Logger, context string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": context,
	}).Error("PANIC recovered")
}
