// Package notifications registers the installation for push messages and
// fans delivered notifications and user responses out to subscribers.
package notifications
