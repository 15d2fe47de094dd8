package offlinecache

import (
	"context"

	"github.com/always-cache/offline-cache/pkg/notification"
)

// Push handles a push message.
// A message carrying a payload is shown as a notification, an empty one is ignored.
// The notification shown is returned; ok is false if nothing was shown.
func (wk *Worker) Push(ctx context.Context, payload []byte) (n notification.Notification, ok bool, err error) {
	p, ok, err := notification.DecodePayload(payload)
	if err != nil {
		wk.metrics.push("invalid")
		return n, false, err
	}
	if !ok {
		wk.log.Debug().Msg("Ignoring push without payload")
		wk.metrics.push("empty")
		return n, false, nil
	}
	n = notification.New(p, wk.notificationOptions)
	if err := wk.notifier.Show(ctx, n); err != nil {
		wk.metrics.push("error")
		return n, false, err
	}
	wk.metrics.push("shown")
	return n, true, nil
}

// NotificationClick handles a click on a notification.
// The notification is closed; the view action also opens its URL.
func (wk *Worker) NotificationClick(ctx context.Context, n notification.Notification, action string) error {
	if err := wk.notifier.Close(ctx, n); err != nil {
		wk.log.Warn().Err(err).Msg("Could not close notification")
	}
	if action != notification.ActionView {
		wk.log.Debug().Str("action", action).Msg("Notification dismissed")
		return nil
	}
	target := n.TargetURL()
	if wk.opener == nil {
		wk.log.Info().Str("url", target).Msg("No window opener, not opening notification URL")
		return nil
	}
	wk.log.Debug().Str("url", target).Msg("Opening window for notification")
	return wk.opener.OpenWindow(ctx, target)
}
