// Package core defines the shared interfaces of the margin calculation client
package core

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IScheduler defines the interface for background task execution. The
// invoker's async poll loops and multi-venue fan-out run on a scheduler;
// callers may supply their own implementation at build time.
type IScheduler interface {
	// Submit enqueues a task for execution. An error means the task was
	// rejected (pool full or stopped) and will never run.
	Submit(task func()) error

	// Stop shuts the scheduler down, waiting for in-flight tasks.
	Stop()
}
