package gcp

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Options selects which Google Cloud clients to open.
type Options struct {
	ProjectID       string
	CredentialsFile string
	Firestore       bool
	PubSub          bool
}

// Client bundles the Google Cloud clients used for persistence and events.
// Fields for services that were not requested are nil.
type Client struct {
	ProjectID       string
	FirestoreClient *firestore.Client
	PubSubClient    *pubsub.Client
	logger          *zap.Logger
}

// NewClient opens the requested clients. Nothing is opened when neither
// service is requested.
func NewClient(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("google cloud project id is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	c := &Client{ProjectID: opts.ProjectID, logger: logger.Named("gcp")}
	if opts.Firestore {
		fs, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore client: %w", err)
		}
		c.FirestoreClient = fs
	}
	if opts.PubSub {
		ps, err := pubsub.NewClient(ctx, opts.ProjectID, clientOpts...)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
		}
		c.PubSubClient = ps
	}
	c.logger.Info("google cloud clients ready",
		zap.String("project", opts.ProjectID),
		zap.Bool("firestore", opts.Firestore),
		zap.Bool("pubsub", opts.PubSub))
	return c, nil
}

// Close closes every open client.
func (c *Client) Close() error {
	var errs []error
	if c.FirestoreClient != nil {
		if err := c.FirestoreClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Firestore client: %w", err))
		}
	}
	if c.PubSubClient != nil {
		if err := c.PubSubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Pub/Sub client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// EnsureTopic returns the named topic, creating it when missing.
func (c *Client) EnsureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	if c.PubSubClient == nil {
		return nil, fmt.Errorf("pub/sub client not configured")
	}
	topic := c.PubSubClient.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic existence: %w", err)
	}
	if !exists {
		topic, err = c.PubSubClient.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic: %w", err)
		}
		c.logger.Info("created topic", zap.String("topic", name))
	}
	return topic, nil
}

// Subscribe receives messages from an existing subscription until ctx is done.
func (c *Client) Subscribe(ctx context.Context, subscription string, fn func(ctx context.Context, msg *pubsub.Message)) error {
	if c.PubSubClient == nil {
		return fmt.Errorf("pub/sub client not configured")
	}
	sub := c.PubSubClient.Subscription(subscription)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", subscription)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 100
	if err := sub.Receive(ctx, fn); err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}
	return nil
}
