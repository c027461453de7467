// Package notify delivers operational alerts such as new lockdowns and
// emergency-stop changes.
//
// Delivery is fire and forget from the caller's point of view: Dispatcher
// sends on a background goroutine with a bounded timeout and only logs
// failures. Concrete sinks post to a webhook, publish on NATS, enqueue on
// SQS or send e-mail through SES.
package notify
