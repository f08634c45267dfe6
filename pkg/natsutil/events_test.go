package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/rclink/pkg/models"
)

var errTestFixture = errors.New("fixture error")

type published struct {
	subject string
	payload []byte
}

type fakeJetStream struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.msgs = append(f.msgs, published{subject: subject, payload: payload})

	return &jetstream.PubAck{Stream: DefaultStream, Sequence: uint64(len(f.msgs))}, nil
}

func TestPublishConnectionEvent(t *testing.T) {
	js := &fakeJetStream{}
	pub := NewEventPublisher(js, DefaultStream, "field-tablet-3", nil)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	status := models.ConnectionStatus{
		Connected: true,
		Label:     "DJI RM330 connected",
		Reason:    models.ReasonConnected,
		Identity:  "accessory:5YSZK7",
		Model:     models.ModelRM330,
		SessionID: "3f1c",
		Timestamp: ts,
	}

	require.NoError(t, pub.PublishConnectionEvent(context.Background(), status))
	require.Len(t, js.msgs, 1)
	assert.Equal(t, ConnectionSubject, js.msgs[0].subject)

	var event struct {
		SpecVersion string                     `json:"specversion"`
		ID          string                     `json:"id"`
		Type        string                     `json:"type"`
		Source      string                     `json:"source"`
		Time        time.Time                  `json:"time"`
		Data        models.ConnectionEventData `json:"data"`
	}

	require.NoError(t, json.Unmarshal(js.msgs[0].payload, &event))
	assert.Equal(t, "1.0", event.SpecVersion)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ConnectionEventType, event.Type)
	assert.Equal(t, "rclink/agent", event.Source)
	assert.True(t, ts.Equal(event.Time))
	assert.Equal(t, "field-tablet-3", event.Data.Host)
	assert.Equal(t, models.ReasonConnected, event.Data.Reason)
	assert.Equal(t, "3f1c", event.Data.SessionID)
	assert.True(t, event.Data.Connected)
}

func TestPublishConnectionEvent_CustomSubjectAndError(t *testing.T) {
	js := &fakeJetStream{}
	pub := NewEventPublisher(js, DefaultStream, "", nil).WithSubject("events.rclink.site-a")

	require.NoError(t, pub.PublishConnectionEvent(context.Background(), models.ConnectionStatus{Reason: models.ReasonShutdown}))
	assert.Equal(t, "events.rclink.site-a", js.msgs[0].subject)

	js.err = errTestFixture
	err := pub.PublishConnectionEvent(context.Background(), models.ConnectionStatus{})
	require.ErrorIs(t, err, errTestFixture)
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "events.rclink.connection",
			want:     []string{"events.rclink.connection"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"events.rclink.*"},
			subject:  "events.rclink.connection",
			want:     []string{"events.rclink.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"events.>"},
			subject:  "events.rclink.connection",
			want:     []string{"events.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  "events.rclink.connection",
			want:     []string{"logs.syslog.*", "events.rclink.connection"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)

			if len(result) != len(tc.want) {
				t.Fatalf("expected %d subjects, got %d", len(tc.want), len(result))
			}

			for i := range tc.want {
				if tc.want[i] != result[i] {
					t.Fatalf("result[%d] = %q, want %q", i, result[i], tc.want[i])
				}
			}
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "events.rclink.connection", "events.rclink.connection", true},
		{"single wildcard", "events.*.connection", "events.rclink.connection", true},
		{"greater wildcard", "events.>", "events.rclink.connection", true},
		{"no match length", "events.*", "events.rclink.connection", false},
		{"no match tokens", "logs.syslog.*", "events.rclink.connection", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := matchesSubject(tc.pattern, tc.subject); got != tc.expected {
				t.Fatalf("matchesSubject(%q, %q) = %t, want %t", tc.pattern, tc.subject, got, tc.expected)
			}
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isStreamMissingErr(tc.err); got != tc.expected {
				t.Fatalf("isStreamMissingErr(%v) = %t, want %t", tc.err, got, tc.expected)
			}
		})
	}
}
