// Package email provides the sales-alert email client
package email

import (
	"fmt"

	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/email/templates"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
	"github.com/resendlabs/resend-go"
)

type Client struct {
	resend    *resend.Client
	fromEmail string
	toEmail   string
}

// NewClient builds the alert sender. Both the API key and a recipient must
// be configured; callers treat a nil client as "alerts disabled".
func NewClient() (*Client, error) {
	if config.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY environment variable is required")
	}
	if config.SalesAlertEmail == "" {
		return nil, fmt.Errorf("SALES_ALERT_EMAIL environment variable is required")
	}

	return &Client{
		resend:    resend.NewClient(config.ResendAPIKey),
		fromEmail: config.AlertFromEmail,
		toEmail:   config.SalesAlertEmail,
	}, nil
}

// SendMatchAlert notifies the sales inbox about a freshly matched
// high-value lead.
func (c *Client) SendMatchAlert(props templates.MatchAlertProps) error {
	subject := fmt.Sprintf("Lead matched: %s ($%.0f)", props.VehicleInterest, props.EstimatedValue)

	htmlContent := templates.GetEmailLayout(templates.EmailLayoutProps{
		Content: templates.GetMatchAlertContent(props),
	})

	request := &resend.SendEmailRequest{
		From:    fmt.Sprintf("LeadBridge <%s>", c.fromEmail),
		To:      []string{c.toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	if _, err := c.resend.Emails.Send(request); err != nil {
		return fmt.Errorf("failed to send match alert: %w", err)
	}
	return nil
}
