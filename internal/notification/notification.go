// Package notification delivers push notifications for approval-waiting
// trades. Without VAPID keys configured the sender degrades to a logging
// no-op, so the trading path never depends on push being set up.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"bozbot/internal/database"
)

const sendTimeout = 10 * time.Second

// Sender pushes notifications to the operator's subscribed browser.
type Sender struct {
	http            *resty.Client
	vapidPublicKey  string
	vapidPrivateKey string
	log             zerolog.Logger
}

// NewSender builds a push sender. Empty VAPID keys disable delivery.
func NewSender(vapidPublicKey, vapidPrivateKey string, log zerolog.Logger) *Sender {
	return &Sender{
		http:            resty.New().SetTimeout(sendTimeout),
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		log:             log.With().Str("component", "notification").Logger(),
	}
}

// Enabled reports whether push delivery is configured.
func (s *Sender) Enabled() bool {
	return s.vapidPublicKey != "" && s.vapidPrivateKey != ""
}

// pushSubscription is the browser's stored subscription blob.
type pushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Notify sends one push message. Failures are logged, never propagated:
// a notification is a courtesy, not part of the trade.
func (s *Sender) Notify(ctx context.Context, op *database.Operator, title, body string) {
	if !s.Enabled() {
		s.log.Debug().Str("title", title).Msg("push disabled, notification logged only")
		return
	}
	if op == nil || op.PushSubscription == nil {
		return
	}

	var sub pushSubscription
	if err := json.Unmarshal([]byte(*op.PushSubscription), &sub); err != nil {
		s.log.Warn().Err(err).Msg("stored push subscription is malformed")
		return
	}
	if sub.Endpoint == "" {
		return
	}

	payload := map[string]string{"title": title, "body": body}
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("TTL", "3600").
		SetBody(payload).
		Post(sub.Endpoint)
	if err != nil {
		s.log.Warn().Err(err).Msg("push delivery failed")
		return
	}
	if resp.IsError() {
		s.log.Warn().Int("status", resp.StatusCode()).Msg("push endpoint rejected message")
		return
	}
	s.log.Debug().Str("title", title).Msg("push delivered")
}
