// Package notify fans run lifecycle events out to NATS so other systems can
// react to published documentation.
package notify

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/docpublisher/internal/eventstore"
	ferrors "git.home.luguber.info/inful/docpublisher/internal/foundation/errors"
	"git.home.luguber.info/inful/docpublisher/internal/logfields"
)

// Message is the JSON body published for every run event.
type Message struct {
	RunID     string          `json:"run_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Notifier publishes run events on a subject. The subject is suffixed with
// the event type, e.g. docpublisher.runs.RunSucceeded.
type Notifier struct {
	conn    *nats.Conn
	subject string
	publish func(subject string, data []byte) error
	logger  *slog.Logger
}

// Connect dials the NATS server. Connection loss is retried in the background.
func Connect(url, subject string, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("docpublisher"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", url).
			Build()
	}
	logger.Info("NATS notifier initialized", logfields.URL(url), slog.String("subject", subject))
	return &Notifier{conn: conn, subject: subject, publish: conn.Publish, logger: logger}, nil
}

// Handle publishes event. It is meant to be registered with Emitter.Subscribe;
// delivery failures are logged, never returned.
func (n *Notifier) Handle(event eventstore.Event) {
	data, err := Encode(event)
	if err != nil {
		n.logger.Warn("Failed to encode run event", logfields.RunID(event.RunID()), logfields.Error(err))
		return
	}
	subject := n.subject + "." + event.Type()
	if err := n.publish(subject, data); err != nil {
		n.logger.Warn("Failed to publish run event",
			logfields.RunID(event.RunID()),
			logfields.Event(event.Type()),
			logfields.Error(err))
		return
	}
	n.logger.Debug("Published run event", logfields.RunID(event.RunID()), logfields.Event(event.Type()))
}

// Encode renders the wire message for event.
func Encode(event eventstore.Event) ([]byte, error) {
	msg := Message{
		RunID:     event.RunID(),
		Type:      event.Type(),
		Timestamp: event.Timestamp().UTC(),
	}
	if p := event.Payload(); json.Valid(p) {
		msg.Data = p
	}
	return json.Marshal(msg)
}

// Close flushes pending messages and closes the connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
