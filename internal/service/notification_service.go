package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuskit/library-api/internal/models"
	"github.com/campuskit/library-api/pkg/config"
	"github.com/campuskit/library-api/pkg/jobs"
	"github.com/campuskit/library-api/pkg/mailer"
)

const notificationJobType = "notification.email"

// NotificationService turns workflow events into emails delivered by a
// background worker pool. Producers fire and forget: a full queue or a
// failing SMTP server never propagates to the triggering operation.
type NotificationService struct {
	queue  *jobs.Queue
	sender mailer.Sender
	logger *zap.Logger
}

// NewNotificationService wires the worker queue around the mail sender.
func NewNotificationService(sender mailer.Sender, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, logger: logger}
	s.queue = jobs.NewQueue(notificationJobType, s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues an event for asynchronous delivery. Errors are logged and
// swallowed.
func (s *NotificationService) Notify(event models.NotificationEvent) {
	if s == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    notificationJobType,
		Payload: event,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue notification",
			zap.String("kind", string(event.Kind)),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.NotificationEvent)
	if !ok {
		s.logger.Error("notification job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	if event.UserEmail == "" {
		return nil
	}
	msg := renderNotification(event)
	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", event.Kind, event.UserEmail, err)
	}
	return nil
}

func renderNotification(event models.NotificationEvent) mailer.Message {
	var subject, body string
	switch event.Kind {
	case models.NotificationRequestApproved:
		subject = fmt.Sprintf("Your request for %q was approved", event.BookTitle)
		body = fmt.Sprintf("Hi %s,\n\nYour borrow request for %q has been approved. The book is ready for pickup at the circulation desk.\n", event.UserName, event.BookTitle)
		if event.DueDate != nil {
			body += fmt.Sprintf("Please return it by %s.\n", event.DueDate.Format("2 January 2006"))
		}
	case models.NotificationRequestRejected:
		subject = fmt.Sprintf("Your request for %q was declined", event.BookTitle)
		body = fmt.Sprintf("Hi %s,\n\nUnfortunately your borrow request for %q could not be approved. Please contact the library desk for details.\n", event.UserName, event.BookTitle)
	case models.NotificationOverdueReminder:
		subject = fmt.Sprintf("Overdue reminder: %q", event.BookTitle)
		body = fmt.Sprintf("Hi %s,\n\n%q is overdue.", event.UserName, event.BookTitle)
		if event.DueDate != nil {
			body += fmt.Sprintf(" It was due on %s.", event.DueDate.Format("2 January 2006"))
		}
		if event.FineAmount != "" {
			body += fmt.Sprintf(" The fine accrued so far is %s.", event.FineAmount)
		}
		body += "\nPlease return the book as soon as possible.\n"
	default:
		subject = "Library notification"
		body = fmt.Sprintf("Hi %s,\n\nThere is an update on %q at the library.\n", event.UserName, event.BookTitle)
	}
	return mailer.Message{
		To:      event.UserEmail,
		Subject: subject,
		Body:    body + "\nUniversity Library\n" + time.Now().UTC().Format("2006-01-02"),
	}
}
