package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/johndauphine/dsv-extract/internal/config"
)

const defaultUsername = "dsv-extract"

// Attachment colors.
const (
	colorGood    = "#36a64f"
	colorWarning = "#ffc107"
	colorDanger  = "#dc3545"
)

// maxErrorLen bounds error text in a message.
const maxErrorLen = 500

// Notifier posts run events to a Slack incoming webhook.
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func short(title, value string) SlackField { return SlackField{Title: title, Value: value, Short: true} }
func long(title, value string) SlackField  { return SlackField{Title: title, Value: value} }

// New creates a notifier. A nil config yields a disabled notifier.
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{}
	}
	return &Notifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether messages are sent.
func (n *Notifier) IsEnabled() bool {
	return n.config.Enabled && n.config.WebhookURL != ""
}

func (n *Notifier) RunStarted(runID, source, catalog string, entryCount int) error {
	return n.post(":rocket:", "", SlackAttachment{
		Color: colorGood,
		Title: "Extraction Started",
		Fields: []SlackField{
			short("Run ID", runID),
			short("Entries", strconv.Itoa(entryCount)),
			short("Source", source),
			short("Catalog", catalog),
		},
	})
}

func (n *Notifier) RunCompleted(runID string, startTime time.Time, duration time.Duration, entryCount int, rowCount int64, throughput float64) error {
	text := fmt.Sprintf("Data export completed. Extracted %d entries with %s total rows. Throughput: %s rows/sec.",
		entryCount, withCommas(rowCount), withCommas(int64(throughput)))
	return n.post(":white_check_mark:", text, SlackAttachment{
		Color: colorGood,
		Fields: []SlackField{
			short("Run ID", runID),
			short("Started", startTime.UTC().Format("2006-01-02 15:04:05 UTC")),
			short("Duration", formatDuration(duration)),
			short("Entries", strconv.Itoa(entryCount)),
			short("Total Rows", withCommas(rowCount)),
			short("Throughput", withCommas(int64(throughput))+" rows/sec"),
		},
	})
}

func (n *Notifier) RunCompletedWithFailures(runID string, startTime time.Time, duration time.Duration,
	succeeded, failed int, rowCount int64, throughput float64, failures []string) error {
	text := fmt.Sprintf("Data export completed with failures. %d entries succeeded, %d failed. Extracted %s rows. Throughput: %s rows/sec.",
		succeeded, failed, withCommas(rowCount), withCommas(int64(throughput)))
	return n.post(":warning:", text, SlackAttachment{
		Color: colorWarning,
		Fields: []SlackField{
			short("Run ID", runID),
			short("Started", startTime.UTC().Format("2006-01-02 15:04:05 UTC")),
			short("Duration", formatDuration(duration)),
			short("Succeeded", fmt.Sprintf("%d entries", succeeded)),
			short("Failed", fmt.Sprintf("%d entries", failed)),
			short("Total Rows", withCommas(rowCount)),
			long("Failed Entries", summarizeFailures(failures)),
		},
	})
}

// RunFailed reports a run that stopped before the end of the catalog.
func (n *Notifier) RunFailed(runID string, err error, duration time.Duration) error {
	return n.post(":x:", "", SlackAttachment{
		Color: colorDanger,
		Title: "Extraction Aborted",
		Fields: []SlackField{
			short("Run ID", runID),
			short("Duration", duration.Round(time.Second).String()),
			long("Error", errorText(err)),
		},
	})
}

func (n *Notifier) EntryFailed(runID, entry string, err error) error {
	return n.post(":warning:", "", SlackAttachment{
		Color: colorWarning,
		Title: "Entry Failed",
		Fields: []SlackField{
			short("Run ID", runID),
			short("Entry", entry),
			long("Error", errorText(err)),
		},
	})
}

// post wraps one attachment in a message and sends it. It is a no-op when
// the notifier is disabled.
func (n *Notifier) post(icon, text string, a SlackAttachment) error {
	if !n.IsEnabled() {
		return nil
	}
	a.Footer = defaultUsername
	a.Timestamp = time.Now().Unix()

	username := n.config.Username
	if username == "" {
		username = defaultUsername
	}
	payload, err := json.Marshal(SlackMessage{
		Channel:     n.config.Channel,
		Username:    username,
		IconEmoji:   icon,
		Text:        text,
		Attachments: []SlackAttachment{a},
	})
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	s := err.Error()
	if len(s) > maxErrorLen {
		s = s[:maxErrorLen] + "..."
	}
	return s
}

// summarizeFailures lists up to five failed entries.
func summarizeFailures(failures []string) string {
	if len(failures) <= 5 {
		return strings.Join(failures, ", ")
	}
	return fmt.Sprintf("%s... and %d more", strings.Join(failures[:3], ", "), len(failures)-3)
}

func withCommas(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
