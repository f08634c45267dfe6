package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/rclink/pkg/logger"
	"github.com/carverauto/rclink/pkg/models"
)

const (
	// DefaultStream is the JetStream stream holding rclink events.
	DefaultStream = "RCLINK_EVENTS"
	// ConnectionSubject is the subject of peripheral connection events.
	ConnectionSubject = "events.rclink.connection"
	// ConnectionEventType is the CloudEvents type of connection events.
	ConnectionEventType = "com.carverauto.rclink.peripheral.connection"

	eventSource = "rclink/agent"
)

// Publisher is the subset of jetstream.JetStream used to publish events.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher publishes CloudEvents to NATS JetStream.
type EventPublisher struct {
	js      Publisher
	stream  string
	subject string
	host    string
	logger  logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
// host is recorded in every event so that several agents can share a stream.
func NewEventPublisher(js Publisher, streamName, host string, log logger.Logger) *EventPublisher {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &EventPublisher{
		js:      js,
		stream:  streamName,
		subject: ConnectionSubject,
		host:    host,
		logger:  log,
	}
}

// WithSubject overrides the connection event subject.
func (p *EventPublisher) WithSubject(subject string) *EventPublisher {
	if subject != "" {
		p.subject = subject
	}

	return p
}

// PublishConnectionEvent publishes one connection status change.
func (p *EventPublisher) PublishConnectionEvent(ctx context.Context, status models.ConnectionStatus) error {
	data := models.ConnectionEventData{
		Connected: status.Connected,
		Label:     status.Label,
		Reason:    status.Reason,
		Identity:  status.Identity,
		Model:     status.Model,
		SessionID: status.SessionID,
		Host:      p.host,
		Timestamp: status.Timestamp,
	}

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            ConnectionEventType,
		DataContentType: "application/json",
		Subject:         p.subject,
		Time:            &data.Timestamp,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal connection event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish connection event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("seq", ack.Sequence).
		Msg("Published connection event")

	return nil
}

// ConnectWithEventPublisher creates a NATS connection with JetStream and returns an EventPublisher.
func ConnectWithEventPublisher(
	ctx context.Context, natsURL, domain, streamName, host string, log logger.Logger, opts ...nats.Option,
) (*EventPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	publisher, err := CreateEventPublisher(ctx, nc, domain, streamName, host, log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return publisher, nc, nil
}

// CreateEventPublisher creates an EventPublisher for an existing NATS
// connection, creating the stream or adding the connection subject to it
// when needed.
func CreateEventPublisher(
	ctx context.Context, nc *nats.Conn, domain, streamName, host string, log logger.Logger,
) (*EventPublisher, error) {
	js, err := NewJetStream(nc, domain)
	if err != nil {
		return nil, err
	}

	if streamName == "" {
		streamName = DefaultStream
	}

	if err := ensureStream(ctx, js, streamName, ConnectionSubject); err != nil {
		return nil, err
	}

	return NewEventPublisher(js, streamName, host, log), nil
}

// NewJetStream returns a JetStream context, scoped to domain when set.
func NewJetStream(nc *nats.Conn, domain string) (jetstream.JetStream, error) {
	if domain == "" {
		js, err := jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		return js, nil
	}

	js, err := jetstream.NewWithDomain(nc, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
	}

	return js, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, streamName, subject string) error {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{subject},
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}

		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stream %s: %w", streamName, err)
	}

	cfg := info.Config
	before := len(cfg.Subjects)

	cfg.Subjects = ensureSubjectList(cfg.Subjects, subject)
	if len(cfg.Subjects) == before {
		return nil
	}

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to add subject %s to stream %s: %w", subject, streamName, err)
	}

	return nil
}

// ensureSubjectList appends subject unless an existing pattern already covers it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern ("*" for one token,
// ">" for the remainder) matches subject.
func matchesSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, tok := range pTokens {
		if tok == ">" {
			return len(sTokens) > i
		}

		if i >= len(sTokens) {
			return false
		}

		if tok != "*" && tok != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
