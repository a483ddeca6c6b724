package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/civichub/planengine/pkg/audit"
)

// Format is the body an endpoint receives
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
	FormatTeams Format = "teams"
)

// ParseFormat maps a config value onto a Format, defaulting to json
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatSlack, FormatTeams:
		return f, nil
	}
	return "", fmt.Errorf("unsupported webhook format %q", raw)
}

func render(format Format, n *Notification) ([]byte, error) {
	var body interface{} = n
	switch format {
	case FormatSlack:
		body = FormatSlackMessage(n.Event)
	case FormatTeams:
		body = FormatTeamsMessage(n.Event)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", format, err)
	}
	return data, nil
}

// SlackMessage is an incoming-webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// TeamsMessage is a Microsoft Teams MessageCard
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary,omitempty"`
	Title      string         `json:"title,omitempty"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

// TeamsSection represents a section in a Teams message
type TeamsSection struct {
	Facts []TeamsFact `json:"facts,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// TeamsFact represents a fact in a Teams section
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type fact struct {
	name, value string
	short       bool
}

// facts lists the populated fields of an event in display order
func facts(event *audit.Event) []fact {
	var out []fact
	add := func(name, value string, short bool) {
		if value != "" {
			out = append(out, fact{name, value, short})
		}
	}
	if event.TenantID != 0 {
		add("Tenant", fmt.Sprint(event.TenantID), true)
	}
	add("From", event.FromTier, true)
	add("To", event.ToTier, true)
	add("Action", event.Action, true)
	add("Actor", event.Actor, true)
	add("Time", event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"), true)
	add("Message", event.Message, false)
	return out
}

// FormatSlackMessage formats an event as a Slack message
func FormatSlackMessage(event *audit.Event) SlackMessage {
	var fields []SlackField
	for _, f := range facts(event) {
		fields = append(fields, SlackField{Title: f.name, Value: f.value, Short: f.short})
	}
	return SlackMessage{
		Text: summary(event),
		Attachments: []SlackAttachment{{
			Color:  slackColor(event.EventType),
			Title:  title(event.EventType),
			Fields: fields,
		}},
	}
}

// FormatTeamsMessage formats an event as a Microsoft Teams message
func FormatTeamsMessage(event *audit.Event) TeamsMessage {
	var section TeamsSection
	for _, f := range facts(event) {
		section.Facts = append(section.Facts, TeamsFact{Name: f.name, Value: f.value})
	}
	section.Text = summary(event)

	return TeamsMessage{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    title(event.EventType),
		Title:      title(event.EventType),
		ThemeColor: teamsColor(event.EventType),
		Sections:   []TeamsSection{section},
	}
}

// summary is a one-line description of event
func summary(event *audit.Event) string {
	switch event.EventType {
	case audit.EventTypePlanUpgraded:
		return fmt.Sprintf("Tenant %d moved from %s to %s", event.TenantID, event.FromTier, event.ToTier)
	case audit.EventTypePlanUpgradeRejected:
		return fmt.Sprintf("Tenant %d could not move to %s: %s", event.TenantID, event.ToTier, event.Message)
	case audit.EventTypeQuotaDenied:
		return fmt.Sprintf("Tenant %d hit the %s quota", event.TenantID, event.Action)
	case audit.EventTypeCatalogPublished:
		return fmt.Sprintf("Plan %s published", event.ToTier)
	case audit.EventTypeCatalogReloaded:
		return "Plan catalog reloaded"
	default:
		return string(event.EventType)
	}
}

func title(eventType audit.EventType) string {
	switch eventType {
	case audit.EventTypePlanUpgraded:
		return "Plan Upgraded"
	case audit.EventTypePlanUpgradeRejected:
		return "Plan Upgrade Rejected"
	case audit.EventTypeQuotaDenied:
		return "Quota Reached"
	case audit.EventTypeCatalogPublished:
		return "Plan Published"
	case audit.EventTypeCatalogReloaded:
		return "Catalog Reloaded"
	default:
		return string(eventType)
	}
}

func slackColor(eventType audit.EventType) string {
	switch eventType {
	case audit.EventTypePlanUpgraded, audit.EventTypeCatalogPublished:
		return "good"
	case audit.EventTypePlanUpgradeRejected:
		return "danger"
	case audit.EventTypeQuotaDenied:
		return "warning"
	default:
		return "#439FE0"
	}
}

func teamsColor(eventType audit.EventType) string {
	switch eventType {
	case audit.EventTypePlanUpgraded, audit.EventTypeCatalogPublished:
		return "28a745"
	case audit.EventTypePlanUpgradeRejected:
		return "dc3545"
	case audit.EventTypeQuotaDenied:
		return "ffc107"
	default:
		return "007bff"
	}
}
