package main

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/larder/internal/model"
)

const dateLayout = "2006-01-02"

// logReminders records expiry reminders in the log. There is no notifier on
// the command line; a desktop front end would plug its own.
type logReminders struct {
	log *zap.Logger
	now func() time.Time
}

func newLogReminders(log *zap.Logger) *logReminders {
	return &logReminders{log: log, now: time.Now}
}

func (r *logReminders) Schedule(_ context.Context, it model.Item) {
	if it.ExpiryDate == nil {
		return
	}
	fields := []zap.Field{
		zap.String("id", it.ID),
		zap.String("name", it.Name),
		zap.String("expiry_date", *it.ExpiryDate),
	}
	if days, ok := daysLeft(*it.ExpiryDate, r.now()); ok {
		fields = append(fields, zap.Int("days_left", days))
	}
	r.log.Info("expiry reminder scheduled", fields...)
}

func (r *logReminders) Cancel(_ context.Context, itemID string) {
	r.log.Debug("expiry reminder cancelled", zap.String("id", itemID))
}

// daysLeft counts calendar days from now until the expiry date.
func daysLeft(expiry string, now time.Time) (int, bool) {
	d, err := time.ParseInLocation(dateLayout, expiry, now.Location())
	if err != nil {
		return 0, false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return int(math.Round(d.Sub(today).Hours() / 24)), true
}
