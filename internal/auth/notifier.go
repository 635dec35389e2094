// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Message is an outbound email.
type Message struct {
	Subject  string
	HTMLBody string
	To       string
	From     string
}

// Notifier delivers messages to users.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// ResetMailConfig controls the password reset email.
type ResetMailConfig struct {
	// FrontendURL is the base URL of the client; the link is
	// <FrontendURL>/resetpassword/<secret>.
	FrontendURL string
	// From is the sender address.
	From string
	// Subject defaults to DefaultResetSubject.
	Subject string
	// ProductName appears in the greeting and signature.
	ProductName string
}

// DefaultResetSubject is used when ResetMailConfig.Subject is empty.
const DefaultResetSubject = "Reset your password"

var resetMailTemplate = template.Must(template.New("reset").Parse(`<h2>Hello {{.Name}}</h2>
<p>Use the link below to reset your {{.ProductName}} password.</p>
<p>This link is valid for {{.ValidFor}} only.</p>
<a href="{{.URL}}" clicktracking=off>{{.URL}}</a>
<p>Regards,</p>
<p>{{.ProductName}}</p>
`))

// ResetLink builds the client URL carrying secret.
func (c ResetMailConfig) ResetLink(secret string) string {
	return strings.TrimRight(c.FrontendURL, "/") + "/resetpassword/" + url.PathEscape(secret)
}

// BuildResetMessage renders the reset email for a user.
func (c ResetMailConfig) BuildResetMessage(user *User, secret string, validFor time.Duration) (Message, error) {
	product := c.ProductName
	if product == "" {
		product = "credkeep"
	}
	subject := c.Subject
	if subject == "" {
		subject = DefaultResetSubject
	}

	var body bytes.Buffer
	err := resetMailTemplate.Execute(&body, struct {
		Name        string
		ProductName string
		ValidFor    string
		URL         string
	}{
		Name:        user.Name,
		ProductName: product,
		ValidFor:    humanizeDuration(validFor),
		URL:         c.ResetLink(secret),
	})
	if err != nil {
		return Message{}, oops.Code("RESET_MAIL_RENDER_FAILED").Wrap(err)
	}

	return Message{
		Subject:  subject,
		HTMLBody: body.String(),
		To:       user.Email,
		From:     c.From,
	}, nil
}

func humanizeDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int64(d/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int64(d.Round(time.Minute)/time.Minute))
}
