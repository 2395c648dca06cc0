package notifications

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carboniq/farm-portal/farm-portal-backend/internal/auth"
	"carboniq/farm-portal/farm-portal-backend/internal/farms"
	"carboniq/farm-portal/farm-portal-backend/internal/notifications/websocket"
	"carboniq/farm-portal/farm-portal-backend/pkg/workflows"
)

const deliveryTimeout = 10 * time.Second

// UserDirectory resolves the contact details of a farm owner
type UserDirectory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error)
}

// Pusher delivers a frame to a user's open sockets
type Pusher interface {
	SendToUser(userID string, message websocket.Message) (int, error)
}

// Service tells farm owners about verification outcomes
type Service interface {
	FarmEvaluated(ctx context.Context, farm *farms.Farm)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]SentNotification, error)
}

type Options struct {
	Repo   Repository
	Pusher Pusher
	Users  UserDirectory
	Email  EmailChannel
	SMS    SMSChannel
	Logger *zap.Logger
}

type service struct {
	repo   Repository
	pusher Pusher
	users  UserDirectory
	email  EmailChannel
	sms    SMSChannel
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the notifier. Email and SMS are optional.
func NewService(opts Options) Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &service{
		repo:   opts.Repo,
		pusher: opts.Pusher,
		users:  opts.Users,
		email:  opts.Email,
		sms:    opts.SMS,
		logger: logger,
		now:    time.Now,
	}
}

// FarmEvaluated fans the outcome out to every configured channel. Failures are logged only.
func (s *service) FarmEvaluated(ctx context.Context, farm *farms.Farm) {
	if farm == nil || farm.VerificationStatus == workflows.StatusPending {
		return
	}
	content := render(farm)

	if s.pusher != nil {
		s.push(farm, content)
	}

	if s.email == nil && s.sms == nil {
		return
	}
	if s.users == nil {
		s.logger.Warn("No user directory configured; skipping email and sms")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()

	user, err := s.users.GetUser(ctx, farm.UserID)
	if err != nil {
		s.logger.Warn("Failed to look up farm owner", zap.String("farm_id", farm.ID.String()), zap.Error(err))
		return
	}

	if s.email != nil {
		id, err := s.email.Send(ctx, user.Email, content)
		s.record(ctx, farm, ChannelEmail, content.Subject, content.Text, id, err)
	}
	if s.sms != nil {
		if user.Phone == "" {
			s.record(ctx, farm, ChannelSMS, content.Subject, content.SMS, "", ErrNoRecipient)
		} else {
			id, err := s.sms.Send(ctx, user.Phone, content)
			s.record(ctx, farm, ChannelSMS, content.Subject, content.SMS, id, err)
		}
	}
}

func (s *service) push(farm *farms.Farm, content Content) {
	data := map[string]interface{}{
		"farm_id":           farm.ID.String(),
		"farm_name":         farm.Name,
		"status":            farm.VerificationStatus,
		"carbon_credits":    farm.CarbonCredits,
		"confidence_score":  farm.ConfidenceScore,
		"rejection_reasons": []string(farm.RejectionReasons),
		"message":           content.Subject,
	}

	_, err := s.pusher.SendToUser(farm.UserID.String(), websocket.Message{
		Type:      MessageTypeVerification,
		Data:      data,
		Timestamp: s.now(),
	})
	switch {
	case errors.Is(err, websocket.ErrUserNotConnected):
		s.logger.Debug("Owner not connected", zap.String("user_id", farm.UserID.String()))
	case err != nil:
		s.logger.Warn("Failed to push verification outcome", zap.String("farm_id", farm.ID.String()), zap.Error(err))
	}
}

func (s *service) record(ctx context.Context, farm *farms.Farm, channel, subject, body, providerID string, sendErr error) {
	n := &SentNotification{
		UserID:  farm.UserID,
		FarmID:  farm.ID,
		Channel: channel,
		Subject: subject,
		Content: body,
		Status:  StatusSent,
		SentAt:  s.now(),
	}
	if providerID != "" {
		n.ProviderID = &providerID
	}
	if sendErr != nil {
		msg := sendErr.Error()
		n.ErrorMessage = &msg
		n.Status = StatusFailed
		if errors.Is(sendErr, ErrNoRecipient) {
			n.Status = StatusSkipped
		}
		s.logger.Warn("Notification delivery failed",
			zap.String("farm_id", farm.ID.String()),
			zap.String("channel", channel),
			zap.Error(sendErr))
	}

	if s.repo == nil {
		return
	}
	if err := s.repo.Record(ctx, n); err != nil {
		s.logger.Warn("Failed to record notification", zap.String("channel", channel), zap.Error(err))
	}
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]SentNotification, error) {
	if s.repo == nil {
		return []SentNotification{}, nil
	}
	return s.repo.ListForUser(ctx, userID, limit, offset)
}

func render(farm *farms.Farm) Content {
	if farm.VerificationStatus == workflows.StatusVerified {
		credits, confidence := 0.0, 0.0
		if farm.CarbonCredits != nil {
			credits = *farm.CarbonCredits
		}
		if farm.ConfidenceScore != nil {
			confidence = *farm.ConfidenceScore * 100
		}
		subject := fmt.Sprintf("%s verified: %.1f carbon credits", farm.Name, credits)
		text := fmt.Sprintf("Your farm %q passed verification.\nCarbon credits: %.1f\nConfidence: %.0f%%\n",
			farm.Name, credits, confidence)
		return Content{
			Subject: subject,
			Text:    text,
			HTML: fmt.Sprintf("<p>Your farm <strong>%s</strong> passed verification.</p><p>Carbon credits: %.1f<br>Confidence: %.0f%%</p>",
				html.EscapeString(farm.Name), credits, confidence),
			SMS: fmt.Sprintf("CarbonIQ: %s verified, %.1f credits.", farm.Name, credits),
		}
	}

	subject := fmt.Sprintf("%s was not verified", farm.Name)
	var text, items strings.Builder
	fmt.Fprintf(&text, "Your farm %q did not pass verification:\n", farm.Name)
	for _, r := range farm.RejectionReasons {
		fmt.Fprintf(&text, "- %s\n", r)
		fmt.Fprintf(&items, "<li>%s</li>", html.EscapeString(r))
	}
	return Content{
		Subject: subject,
		Text:    text.String(),
		HTML: fmt.Sprintf("<p>Your farm <strong>%s</strong> did not pass verification:</p><ul>%s</ul>",
			html.EscapeString(farm.Name), items.String()),
		SMS: fmt.Sprintf("CarbonIQ: %s was not verified (%d issues). See the portal for details.",
			farm.Name, len(farm.RejectionReasons)),
	}
}
