package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/google/uuid"
	"github.com/meridianbank/authrisk/internal/models"
	pkglogger "github.com/meridianbank/authrisk/pkg/logger"
)

// RecipientResolver maps the alert's user to an email address. This service
// has no user directory of its own; the attempt ledger's latest record for
// the user carries the address the alert should reach.
type RecipientResolver interface {
	Latest(ctx context.Context, userID uuid.UUID) (*models.LoginAttempt, error)
}

// SESNotifier delivers security alerts by email using AWS SES
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	recipients  RecipientResolver
	logger      *slog.Logger
}

// NewSESNotifier creates a new AWS SES alert notifier
func NewSESNotifier(region, fromAddress string, recipients RecipientResolver, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}, nil
}

// Notify sends the alert to the owner of the affected account
func (n *SESNotifier) Notify(ctx context.Context, alert *models.SecurityAlert) error {
	attempt, err := n.recipients.Latest(ctx, alert.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert recipient: %w", err)
	}
	if attempt == nil || attempt.Email == "" {
		return fmt.Errorf("no known email address for user %s", alert.UserID)
	}

	subject := fmt.Sprintf("Security alert: %s", subjectLine(alert.Category))
	htmlBody := renderHTMLBody(alert)
	textBody := renderTextBody(alert)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{attempt.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := n.sesClient.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send security alert via SES",
			slog.String("alert_id", alert.ID.String()),
			slog.String("email", pkglogger.SanitizedEmail(attempt.Email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("security alert email sent",
		slog.String("alert_id", alert.ID.String()),
		slog.String("email", pkglogger.SanitizedEmail(attempt.Email)),
		slog.String("message_id", *result.MessageId))

	return nil
}

func subjectLine(category models.AnomalyType) string {
	switch category {
	case models.AnomalyNewDevice:
		return "sign-in from a new device"
	case models.AnomalyNewLocation:
		return "sign-in from a new location"
	case models.AnomalyUnusualTime:
		return "sign-in at an unusual time"
	case models.AnomalyImpossibleTravel:
		return "suspicious sign-in location"
	case models.AnomalyVelocity:
		return "repeated failed sign-in attempts"
	default:
		return "unusual account activity"
	}
}

func renderHTMLBody(alert *models.SecurityAlert) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .severity { display: inline-block; padding: 4px 12px; border-radius: 4px; background-color: #fff3cd; border-left: 4px solid #ffc107; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Security Alert</h1>
        </div>
        <div class="content">
            <p><span class="severity">Severity: %s</span></p>
            <p>%s</p>
            <p><strong>Was this you?</strong><br>
            If you recognize this activity, no action is needed. If not, change your password immediately and review your account's recent activity.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
            <p>Alert recorded at %s.</p>
        </div>
    </div>
</body>
</html>
`, strings.ToUpper(string(alert.Severity)), alert.Message, alert.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
}

func renderTextBody(alert *models.SecurityAlert) string {
	return fmt.Sprintf(`Security Alert

Severity: %s

%s

Was this you?
If you recognize this activity, no action is needed. If not, change your password immediately and review your account's recent activity.

This is an automated message. Please do not reply to this email.
Alert recorded at %s.
`, strings.ToUpper(string(alert.Severity)), alert.Message, alert.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
}
