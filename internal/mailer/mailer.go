// Package mailer delivers transactional email off the request path.
//
// Handlers never talk to SMTP directly: they enqueue a Message on the
// Dispatcher and return. A small worker pool delivers each message once,
// bounded by the configured send timeout, and logs the outcome.
package mailer

import "context"

type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
