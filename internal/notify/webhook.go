package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-arena/internal/archive"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/session"
	"github.com/park285/cheese-arena/pkg/arenadto"
)

const EventSessionEnded = "session.ended"

// Webhook is an archive.Archiver that announces ended sessions.
type Webhook struct {
	client *Client
	now    func() time.Time
}

var _ archive.Archiver = (*Webhook)(nil)

func NewWebhook(c *Client) *Webhook {
	return &Webhook{client: c, now: time.Now}
}

func (w *Webhook) Archive(ctx context.Context, s *session.Session) error {
	if w == nil || w.client == nil || s == nil || !s.Ended() {
		return nil
	}
	ev := arenadto.EndedEvent{
		Type:    EventSessionEnded,
		PGN:     archive.BuildPGN(s),
		Session: arenadto.FromSession(s, w.now()),
	}
	if err := w.client.PostJSON(ctx, ev); err != nil {
		return err
	}
	obslog.L().Debug("webhook_sent", zap.String("session_id", s.ID), zap.String("win_reason", string(s.WinReason)))
	return nil
}
