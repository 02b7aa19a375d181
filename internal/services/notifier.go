package services

import (
	"fmt"
	"log"

	"github.com/deskbridge/deskbridge/internal/alerts"
	"github.com/deskbridge/deskbridge/internal/ticket"
	"github.com/slack-go/slack"
)

// SlackNotifier posts ticket outcomes to the configured alerts channel
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a Slack notifier. Returns nil when the token or
// channel is not configured, which disables notifications.
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	if botToken == "" || channel == "" {
		return nil
	}
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// NotifyTicketResult posts the gateway outcome for one alert
func (n *SlackNotifier) NotifyTicketResult(alert alerts.CanonicalAlert, result *ticket.Result) {
	var message string
	switch result.Action {
	case ticket.ActionCreated:
		message = fmt.Sprintf("🎫 *Ticket %s created*\n\n🏷️ *Host:* %s\n🔍 *Trigger:* %s\n⚠️ *Severity:* %s\n🆔 *Event ID:* %s",
			result.TicketID, orUnknown(alert.HostName), orUnknown(alert.TriggerName), orUnknown(alert.Severity), alert.EventID)
	case ticket.ActionUpdated:
		message = fmt.Sprintf("🔄 *Ticket %s updated* (%s)\n\n🏷️ *Host:* %s\n🔍 *Trigger:* %s",
			result.TicketID, alert.State, orUnknown(alert.HostName), orUnknown(alert.TriggerName))
	case ticket.ActionSkipped:
		// Recovery with no open ticket is routine, not worth a message
		return
	}

	if _, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(message, false)); err != nil {
		log.Printf("Warning: failed to post ticket notification to Slack: %v", err)
	}
}

// NotifyFailure posts a gateway failure notice for one alert
func (n *SlackNotifier) NotifyFailure(alert alerts.CanonicalAlert, err error) {
	message := fmt.Sprintf("❌ *Ticket gateway call failed*\n\n🏷️ *Host:* %s\n🔍 *Trigger:* %s\n🆔 *Event ID:* %s\n```\n%v\n```",
		orUnknown(alert.HostName), orUnknown(alert.TriggerName), alert.EventID, err)

	if _, _, postErr := n.client.PostMessage(n.channel, slack.MsgOptionText(message, false)); postErr != nil {
		log.Printf("Warning: failed to post failure notification to Slack: %v", postErr)
	}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
