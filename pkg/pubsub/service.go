package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/GenuineGenius999/VPS-Hosting-Twilio-AI-Caller/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string
	TopicName string
	// PubID prefixes the message name attribute so subscription filters can
	// separate environments ("", "beta", "stage").
	PubID string
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topic", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// MessageName builds the "name" attribute for a published message.
func MessageName(prefix, kind, id string) string {
	prefix = strings.TrimSuffix(prefix, ":")
	if prefix != "" {
		prefix += ":"
	}
	return prefix + kind + ":" + id
}

// PublishJSON marshals payload and waits for the server ack.
func (p *PubSubService) PublishJSON(ctx context.Context, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	taskID := uuid.New().String()
	message := &pubsub.Message{
		Attributes: map[string]string{
			"name": MessageName(p.config.PubID, kind, taskID),
			"kind": kind,
		},
		Data: data,
	}

	result := p.topic.Publish(ctx, message)
	serverID, err := result.Get(ctx)
	if err != nil {
		logger.Base().Error("Failed to publish event", zap.String("kind", kind), zap.String("task_id", taskID), zap.Error(err))
		return fmt.Errorf("failed to publish %s message: %w", kind, err)
	}

	logger.Base().Info("Published event", zap.String("kind", kind), zap.String("task_id", taskID), zap.String("server_id", serverID))
	return nil
}

func (p *PubSubService) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
