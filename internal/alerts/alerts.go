// internal/alerts/alerts.go
package alerts

import (
	"context"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/events"
	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"go.uber.org/zap"
)

// Sink records operator alerts: persisted for the unread feed, published
// on the bus, and mirrored to the log.
type Sink struct {
	storage storage.Storage
	bus     *events.Bus
	logger  *zap.Logger
}

// NewSink creates an alert sink.
func NewSink(store storage.Storage, bus *events.Bus, logger *zap.Logger) *Sink {
	return &Sink{
		storage: store,
		bus:     bus,
		logger:  logger.Named("alerts"),
	}
}

// Raise records one alert. Persistence failure is logged, never fatal;
// an alert must not take the bot down.
func (s *Sink) Raise(ctx context.Context, title, content string) {
	s.RaiseWithLink(ctx, title, content, "", "")
}

// RaiseWithLink records an alert carrying an image and link, used for
// per-token notifications.
func (s *Sink) RaiseWithLink(ctx context.Context, title, content, imageURL, link string) {
	now := time.Now().UTC()

	alert := &models.Alert{
		Title:    title,
		Content:  content,
		ImageURL: imageURL,
		Link:     link,
		Time:     now,
		IsRead:   false,
	}
	if err := s.storage.SaveAlert(ctx, alert); err != nil {
		s.logger.Error("Failed to persist alert",
			zap.String("title", title),
			zap.Error(err))
	}

	if s.bus != nil {
		_ = s.bus.Publish(&events.AlertRaisedEvent{
			BaseEvent: events.NewBaseEvent(events.AlertRaised),
			Title:     title,
			Content:   content,
		})
	}

	s.logger.Warn("🔔 "+title, zap.String("content", content))
}
