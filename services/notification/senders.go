package notification

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"slotkeeper/config"
	"slotkeeper/models"
	"slotkeeper/utils"
)

// Sender delivers a short message to one contact.
type Sender interface {
	Deliver(ctx context.Context, to models.ContactInfo, subject, body string) error
}

// TwilioSender sends SMS through the Twilio REST API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
	})
	return &TwilioSender{client: client, from: from}
}

func (s *TwilioSender) Deliver(ctx context.Context, to models.ContactInfo, subject, body string) error {
	if to.Phone == "" {
		return utils.Validation("contact has no phone number")
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to.Phone)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return utils.Infrastructure("send sms", err)
	}
	return nil
}

// SendGridSender sends email through SendGrid.
type SendGridSender struct {
	apiKey   string
	from     string
	fromName string
}

func NewSendGridSender(apiKey, from, fromName string) *SendGridSender {
	return &SendGridSender{apiKey: apiKey, from: from, fromName: fromName}
}

func (s *SendGridSender) Deliver(ctx context.Context, to models.ContactInfo, subject, body string) error {
	if to.Email == "" {
		return utils.Validation("contact has no email")
	}
	message := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		subject,
		mail.NewEmail(to.Name, to.Email),
		body, "")

	response, err := sendgrid.NewSendClient(s.apiKey).SendWithContext(ctx, message)
	if err != nil {
		return utils.Infrastructure("send email", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return utils.Infrastructure("send email", fmt.Errorf("sendgrid status %d", response.StatusCode))
	}
	return nil
}

// LogSender writes messages to the log. Used when no provider is configured.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Deliver(ctx context.Context, to models.ContactInfo, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = utils.GetLogger()
	}
	logger.Info("Outbound message (no provider configured)",
		zap.String("phone", to.Phone),
		zap.String("email", to.Email),
		zap.String("subject", subject))
	return nil
}

// SendersFromConfig picks SMS and email senders based on which credentials are present.
func SendersFromConfig(cfg config.Config, logger *zap.Logger) (sms Sender, email Sender) {
	sms, email = LogSender{Logger: logger}, LogSender{Logger: logger}
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" && cfg.TwilioFromNumber != "" {
		sms = NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}
	if cfg.SendGridAPIKey != "" && cfg.SendGridFromEmail != "" {
		email = NewSendGridSender(cfg.SendGridAPIKey, cfg.SendGridFromEmail, cfg.SendGridFromName)
	}
	return sms, email
}
