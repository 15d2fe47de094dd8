// Package notification turns push payloads into notifications
// and hands them to whatever displays them.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/skratchdot/open-golang/open"
	"github.com/tidwall/gjson"
)

const (
	ActionView  = "view"
	ActionClose = "close"

	defaultIcon = "/static/images/apple-touch-icon.png"
	defaultURL  = "/"
)

var (
	ErrInvalidPayload = errors.New("invalid push payload")
	// ErrForeignURL is returned when a notification URL leads outside the site.
	ErrForeignURL = errors.New("notification URL outside of site")
)

// Payload is the decoded content of a push message.
type Payload struct {
	Title string
	Body  string
	URL   string
}

// DecodePayload decodes a push message of the form
// `{"title": "...", "body": "...", "url": "..."}`.
// An empty message is not an error, it just carries no payload (ok is false).
func DecodePayload(b []byte) (p Payload, ok bool, err error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return p, false, nil
	}
	if !gjson.ValidBytes(b) {
		return p, false, ErrInvalidPayload
	}
	doc := gjson.ParseBytes(b)
	if !doc.IsObject() {
		return p, false, ErrInvalidPayload
	}
	p.Title = doc.Get("title").String()
	p.Body = doc.Get("body").String()
	p.URL = doc.Get("url").String()
	return p, true, nil
}

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

type Data struct {
	URL string `json:"url"`
}

type Notification struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Icon    string   `json:"icon"`
	Badge   string   `json:"badge"`
	Vibrate []int    `json:"vibrate"`
	Data    Data     `json:"data"`
	Actions []Action `json:"actions"`
}

// Options control how notifications look.
type Options struct {
	Icon  string `koanf:"icon" yaml:"icon"`
	Badge string `koanf:"badge" yaml:"badge"`
}

// New builds the notification shown for a push payload.
func New(p Payload, opts Options) Notification {
	icon := opts.Icon
	if icon == "" {
		icon = defaultIcon
	}
	badge := opts.Badge
	if badge == "" {
		badge = icon
	}
	target := p.URL
	if target == "" {
		target = defaultURL
	}
	return Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    icon,
		Badge:   badge,
		Vibrate: []int{200, 100, 200},
		Data:    Data{URL: target},
		Actions: []Action{
			{Action: ActionView, Title: "View", Icon: icon},
			{Action: ActionClose, Title: "Close"},
		},
	}
}

// TargetURL is the URL to open when the notification is activated.
func (n Notification) TargetURL() string {
	if n.Data.URL == "" {
		return defaultURL
	}
	return n.Data.URL
}

// Notifier displays and dismisses notifications.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Close(ctx context.Context, n Notification) error
}

// WindowOpener opens (or focuses) a window on the given URL.
type WindowOpener interface {
	OpenWindow(ctx context.Context, target string) error
}

// LogNotifier "displays" notifications by logging them.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Show(ctx context.Context, n Notification) error {
	l.Logger.Info().
		Str("title", n.Title).
		Str("body", n.Body).
		Str("url", n.Data.URL).
		Msg("Showing notification")
	return nil
}

func (l LogNotifier) Close(ctx context.Context, n Notification) error {
	l.Logger.Debug().Str("title", n.Title).Msg("Closing notification")
	return nil
}

// BrowserOpener opens URLs in the desktop browser.
// Relative URLs are resolved against BaseURL and only URLs on BaseURL's
// scheme and host are opened. Without a BaseURL only http(s) URLs are opened.
type BrowserOpener struct {
	BaseURL string
	// Open is the function used to open the URL; open.Run if nil.
	Open func(string) error
}

func (b BrowserOpener) OpenWindow(ctx context.Context, target string) error {
	resolved, err := b.Resolve(target)
	if err != nil {
		return err
	}
	run := b.Open
	if run == nil {
		run = open.Run
	}
	return run(resolved)
}

// Resolve resolves target against BaseURL.
// It returns ErrForeignURL for targets that leave the site.
func (b BrowserOpener) Resolve(target string) (string, error) {
	ref, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	if b.BaseURL == "" {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return "", fmt.Errorf("%w: %s", ErrForeignURL, target)
		}
		return ref.String(), nil
	}
	base, err := url.Parse(b.BaseURL)
	if err != nil {
		return "", err
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != base.Scheme || resolved.Host != base.Host {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, target)
	}
	return resolved.String(), nil
}
