// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/credkeep/internal/auth"
)

// ErrDisabled is returned by the Disabled notifier.
var ErrDisabled = oops.Code("MAIL_DISABLED").Errorf("outgoing mail is not configured")

// Disabled returns a notifier that rejects every message with ErrDisabled.
// Only the recipient is logged.
func Disabled(logger *slog.Logger) auth.Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return auth.NotifierFunc(func(ctx context.Context, msg auth.Message) error {
		logger.WarnContext(ctx, "mail dropped, smtp is not configured", "to", msg.To)
		return ErrDisabled
	})
}
