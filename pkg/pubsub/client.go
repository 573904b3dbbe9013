package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lastbite/lastbite-backend/pkg/config"
	"github.com/lastbite/lastbite-backend/pkg/logger"
)

var (
	ErrNoProject = errors.New("pubsub: gcp project id is required")
	ErrNoTopic   = errors.New("pubsub: topic is not configured")
)

// Client owns the Pub/Sub connection and the notification publisher. The
// publisher is created once and flushed on Close.
type Client struct {
	client *pubsub.Client
	topic  string
	cfg    config.PubSubConfig

	once      sync.Once
	publisher *pubsub.Publisher
}

// NewClient connects to Pub/Sub and refuses to start when the notification
// topic is missing, since every publish would fail later anyway.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, ErrNoProject
	}
	topic := TopicResourceName(project, cfg.NotificationTopic)
	if topic == "" {
		return nil, ErrNoTopic
	}

	ps, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect: %w", err)
	}
	c := &Client{client: ps, topic: topic, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	logg.Info(logg.WithField(ctx, "topic", topic), "pubsub ready")
	return c, nil
}

// Ping looks the notification topic up through the admin API.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub: client not connected")
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch status.Code(err) {
	case codes.OK:
		return nil
	case codes.NotFound:
		return fmt.Errorf("pubsub: topic %s does not exist", c.topic)
	}
	return fmt.Errorf("pubsub: get topic %s: %w", c.topic, err)
}

// NotificationPublisher returns the shared publisher for the notification topic.
func (c *Client) NotificationPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	c.once.Do(func() {
		p := c.client.Publisher(c.topic)
		if c.cfg.BatchDelay > 0 {
			p.PublishSettings.DelayThreshold = c.cfg.BatchDelay
		}
		if c.cfg.BatchCount > 0 {
			p.PublishSettings.CountThreshold = c.cfg.BatchCount
		}
		c.publisher = p
	})
	return c.publisher
}

// Close flushes pending publishes before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

// TopicResourceName expands a bare topic id into projects/<p>/topics/<id>.
// Full resource names pass through unchanged.
func TopicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	case strings.TrimSpace(projectID) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(projectID) + "/topics/" + name
}
