// Package notifications pushes job outcomes to an ntfy topic.
//
// New returns a no-op Notifier when notifications.ntfy_topic is empty, so
// callers never branch on whether notifications are configured. The per-kind
// toggles in config decide which events are actually sent.
package notifications
