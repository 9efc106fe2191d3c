package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/lostfound/messaging/internal/model"
)

const (
	// StreamName is the name of the chat stream.
	StreamName = "CHAT"

	// SubjectPrefix is the prefix for all chat subjects.
	SubjectPrefix = "chat"
)

// ErrInvalidSubjectToken rejects identifiers that would break subject scoping.
var ErrInvalidSubjectToken = errors.New("nats: identifier is not a valid subject token")

// StreamManager publishes and listens to message insert events.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the chat stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour, // history lives in Postgres
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "Direct message insert events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	m.client.logger.Info("created stream", zap.String("stream", StreamName))
	return nil
}

// InsertSubject returns the subject carrying inserts for a conversation.
func InsertSubject(conversationID string) (string, error) {
	if !validToken(conversationID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubjectToken, conversationID)
	}
	return fmt.Sprintf("%s.%s.messages.insert", SubjectPrefix, conversationID), nil
}

func validToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, ".*> \t\r\n")
}

// PublishInsert publishes an insert event for a stored message. The
// message ID doubles as the JetStream dedupe key.
func (m *StreamManager) PublishInsert(ctx context.Context, msg *model.Message) error {
	subject, err := InsertSubject(msg.ConversationID)
	if err != nil {
		return err
	}

	data, err := model.NewInsertEvent(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(msg.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Listen delivers insert events published after the call. An ordered
// consumer recovers from gaps and missed heartbeats on its own; dropped
// is only called when the consumer cannot continue.
func (m *StreamManager) Listen(ctx context.Context, conversationID string, deliver func([]byte), dropped func(error)) (func(), error) {
	subject, err := InsertSubject(conversationID)
	if err != nil {
		return nil, err
	}

	cons, err := m.client.JetStream().OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var once sync.Once
	log := m.client.logger.WithConversation(conversationID)

	cc, err := cons.Consume(
		func(msg jetstream.Msg) {
			deliver(msg.Data())
		},
		jetstream.ConsumeErrHandler(func(consumeCtx jetstream.ConsumeContext, err error) {
			if !terminal(err) {
				log.Debug("consumer hiccup", zap.Error(err))
				return
			}
			once.Do(func() {
				consumeCtx.Stop()
				if dropped != nil {
					dropped(err)
				}
			})
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	return cc.Stop, nil
}

func terminal(err error) bool {
	return errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrConnectionClosed)
}
