package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/marketloop/spreadbot/internal/domain"
)

// Sink adapts a Notifier to the engine's telemetry interface so alerts
// ride the same event stream as dashboards. Quote updates are ignored;
// engine events become human-readable messages.
type Sink struct {
	notifier *Notifier
}

// NewSink wraps a Notifier as a domain.TelemetrySink.
func NewSink(n *Notifier) *Sink {
	return &Sink{notifier: n}
}

// PublishTopOfBook is a no-op: quotes are dashboard material, not
// operator alerts.
func (s *Sink) PublishTopOfBook(context.Context, domain.AssetID, domain.TopOfBook) error {
	return nil
}

// PublishEvent renders the event payload and dispatches it through the
// notifier's event filter.
func (s *Sink) PublishEvent(ctx context.Context, event string, payload any) error {
	return s.notifier.Notify(ctx, event, "spreadbot: "+event, renderPayload(payload))
}

func renderPayload(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", payload)
		}
		return string(data)
	}

	lines := make([]string, 0, len(m))
	for k, v := range m {
		lines = append(lines, fmt.Sprintf("%s: %v", k, v))
	}
	// Stable ordering for readable messages.
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Compile-time interface check.
var _ domain.TelemetrySink = (*Sink)(nil)
