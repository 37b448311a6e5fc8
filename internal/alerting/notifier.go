package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/fleetpulse/fleetpulse/internal/health"
	"github.com/fleetpulse/fleetpulse/internal/resilience"
)

// Delivery policy.
const (
	maxRetries        = 3
	baseRetryDelay    = time.Second
	defaultRetryAfter = 5 * time.Second
	sendTimeout       = 10 * time.Second
	maxErrorExcerpt   = 200
)

// Embed colors per alert type (decimal RGB).
var alertColors = map[AlertType]int{
	AlertCritical: 0xFF0000,
	AlertWarning:  0xFFAA00,
	AlertRecovery: 0x00FF00,
	AlertInfo:     0x0099FF,
}

// NotifierConfig holds webhook notifier configuration.
type NotifierConfig struct {
	// WebhookURL is the resolved webhook endpoint. The notifier is only
	// considered configured when it begins with https://.
	WebhookURL string

	// DisplayNames maps component keys to human-readable names.
	DisplayNames map[string]string

	// FooterText appears on every rendered notification.
	FooterText string
}

// payloadField is one structured field in a rendered notification.
type payloadField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// payloadEmbed is the rich body of a rendered notification.
type payloadEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []payloadField `json:"fields"`
	Footer      struct {
		Text string `json:"text"`
	} `json:"footer"`
	Timestamp string `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []payloadEmbed `json:"embeds"`
}

// Notifier renders status transitions into webhook notifications and
// delivers them with bounded retries. SendAlert never returns an error;
// delivery failure is a boolean outcome.
type Notifier struct {
	cfg     NotifierConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	sleep   func(context.Context, time.Duration)
	logger  zerolog.Logger
}

// NewNotifier creates a Notifier. An empty or non-https URL leaves the
// notifier unconfigured; sends then return false without a network call.
func NewNotifier(cfg NotifierConfig, logger zerolog.Logger) *Notifier {
	log := logger.With().Str("component", "webhook_notifier").Logger()
	if cfg.FooterText == "" {
		cfg.FooterText = "FleetPulse Health Monitor"
	}

	n := &Notifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: sendTimeout},
		breaker: resilience.NewCircuitBreaker[*http.Response](resilience.DefaultCircuitBreakerConfig("webhook")),
		sleep:   sleepContext,
		logger:  log,
	}

	if n.Configured() {
		log.Info().Msg("webhook notifier configured")
	} else {
		log.Warn().Msg("no webhook URL configured, alerts disabled")
	}
	return n
}

// Configured reports whether a valid https webhook URL is present.
func (n *Notifier) Configured() bool {
	return strings.HasPrefix(n.cfg.WebhookURL, "https://")
}

// SendAlert delivers one transition notification. Returns true on success,
// false after exhausting retries or when unconfigured.
func (n *Notifier) SendAlert(ctx context.Context, transition StatusTransition) bool {
	if !n.Configured() {
		n.logger.Warn().Msg("cannot send alert, webhook not configured")
		return false
	}
	return n.sendWithRetry(ctx, webhookPayload{Embeds: []payloadEmbed{n.buildEmbed(transition)}})
}

// SendSummary delivers one combined notification for a batch of
// transitions, severity-ordered (critical > recovery > warning > info).
func (n *Notifier) SendSummary(ctx context.Context, transitions []StatusTransition, ecosystemStatus health.Status) bool {
	if !n.Configured() {
		return false
	}
	if len(transitions) == 0 {
		return true
	}

	ordered := make([]StatusTransition, len(transitions))
	copy(ordered, transitions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return alertRank(ordered[i].AlertType) < alertRank(ordered[j].AlertType)
	})

	title := "Ecosystem Alert: Status Changes"
	color := alertColors[AlertWarning]
	switch {
	case hasAlertType(ordered, AlertCritical):
		title = "Ecosystem Alert: Multiple Issues Detected"
		color = alertColors[AlertCritical]
	case hasAlertType(ordered, AlertRecovery):
		title = "Ecosystem Alert: Services Recovering"
		color = alertColors[AlertRecovery]
	}

	lines := make([]string, 0, len(ordered))
	for _, t := range ordered {
		lines = append(lines, fmt.Sprintf("**%s**: %s -> %s", n.displayName(t.EntityName), t.FromStatus, t.ToStatus))
	}

	now := time.Now().UTC()
	embed := payloadEmbed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Color:       color,
		Fields: []payloadField{
			{Name: "Ecosystem Status", Value: strings.ToUpper(string(ecosystemStatus)), Inline: true},
			{Name: "Components Affected", Value: strconv.Itoa(len(ordered)), Inline: true},
			{Name: "Time", Value: relativeTimestamp(now), Inline: true},
		},
		Timestamp: now.Format(time.RFC3339),
	}
	embed.Footer.Text = n.cfg.FooterText

	return n.sendWithRetry(ctx, webhookPayload{Embeds: []payloadEmbed{embed}})
}

func alertRank(t AlertType) int {
	switch t {
	case AlertCritical:
		return 0
	case AlertRecovery:
		return 1
	case AlertWarning:
		return 2
	default:
		return 3
	}
}

func hasAlertType(transitions []StatusTransition, alertType AlertType) bool {
	for _, t := range transitions {
		if t.AlertType == alertType {
			return true
		}
	}
	return false
}

// buildEmbed renders one transition into a notification body.
func (n *Notifier) buildEmbed(t StatusTransition) payloadEmbed {
	display := n.displayName(t.EntityName)

	title := fmt.Sprintf("%s Status Change", display)
	if t.IsRecovery() {
		title = fmt.Sprintf("%s Recovered", display)
	}

	fields := []payloadField{
		{Name: "Component", Value: display, Inline: true},
		{Name: "New Status", Value: strings.ToUpper(string(t.ToStatus)), Inline: true},
		{Name: "Time", Value: relativeTimestamp(t.Timestamp), Inline: true},
	}

	if t.IsRecovery() {
		if downtime, ok := t.Details["downtime_formatted"].(string); ok {
			fields = append(fields, payloadField{Name: "Downtime", Value: downtime, Inline: true})
		}
	}

	if t.Error != "" {
		excerpt := t.Error
		if len(excerpt) > maxErrorExcerpt {
			excerpt = excerpt[:maxErrorExcerpt]
		}
		fields = append(fields, payloadField{Name: "Error", Value: "```" + excerpt + "```", Inline: false})
	}

	if latency, ok := t.Details["latency_ms"]; ok {
		fields = append(fields, payloadField{Name: "Latency", Value: fmt.Sprintf("%vms", latency), Inline: true})
	}

	color, ok := alertColors[t.AlertType]
	if !ok {
		color = 0x808080
	}

	embed := payloadEmbed{
		Title:       title,
		Description: fmt.Sprintf("Status changed from **%s** to **%s**", t.FromStatus, t.ToStatus),
		Color:       color,
		Fields:      fields,
		Timestamp:   t.Timestamp.UTC().Format(time.RFC3339),
	}
	embed.Footer.Text = n.cfg.FooterText
	return embed
}

// displayName maps an entity name to its configured display name. Names
// using the "source -> target" convention pass through verbatim; anything
// else gets underscores replaced with hyphens and title casing.
func (n *Notifier) displayName(entityName string) string {
	if mapped, ok := n.cfg.DisplayNames[entityName]; ok {
		return mapped
	}
	if strings.Contains(entityName, " -> ") {
		return entityName
	}
	hyphenated := strings.ReplaceAll(entityName, "_", "-")
	parts := strings.Split(hyphenated, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// sendWithRetry posts the payload with up to maxRetries attempts. A 429
// waits out the advertised Retry-After; other failures back off
// exponentially.
func (n *Notifier) sendWithRetry(ctx context.Context, payload webhookPayload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to encode webhook payload")
		return false
	}

	bo := resilience.NewDeliveryBackoff(baseRetryDelay)

	for attempt := 0; attempt < maxRetries; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		status, retryAfter, err := n.post(ctx, body)
		switch {
		case err != nil:
			n.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("webhook delivery failed")
		case status >= 200 && status < 300:
			n.logger.Debug().Msg("webhook alert sent")
			return true
		case status == http.StatusTooManyRequests:
			n.logger.Warn().Dur("retry_after", retryAfter).Msg("webhook rate limited")
			n.sleep(ctx, retryAfter)
			continue
		default:
			n.logger.Error().Int("status", status).Int("attempt", attempt+1).Msg("webhook delivery rejected")
		}

		if attempt < maxRetries-1 {
			n.sleep(ctx, bo.NextBackOff())
		}
	}

	n.logger.Error().Int("attempts", maxRetries).Msg("failed to deliver webhook alert")
	return false
}

// post performs one delivery attempt through the circuit breaker and
// returns the HTTP status plus any parsed Retry-After hint.
func (n *Notifier) post(ctx context.Context, body []byte) (int, time.Duration, error) {
	resp, err := n.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return n.client.Do(req)
	})
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	retryAfter := defaultRetryAfter
	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			RetryAfter float64 `json:"retry_after"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&rl); decodeErr == nil && rl.RetryAfter > 0 {
			retryAfter = time.Duration(rl.RetryAfter * float64(time.Second))
		} else if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, parseErr := strconv.Atoi(header); parseErr == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}

	return resp.StatusCode, retryAfter, nil
}

// relativeTimestamp renders a Discord-style relative time marker.
func relativeTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
