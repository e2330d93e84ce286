package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/storyline-backend/pkg/config"
	"github.com/angelmondragon/storyline-backend/pkg/logger"
)

var (
	ErrNotConfigured = errors.New("pubsub client not initialized")
	ErrTopicMissing  = errors.New("pubsub topic does not exist")
)

// Params configures NewClient.
type Params struct {
	GCP    config.GCPConfig
	PubSub config.PubSubConfig
	// Ordered enables ordering keys on every publisher handed out.
	Ordered bool
	Logger  *logger.Logger
}

// Client wraps a Pub/Sub v2 client and hands out one publisher per topic.
type Client struct {
	gcp     *gcppubsub.Client
	project string
	topic   string
	ordered bool

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

// NewClient dials Pub/Sub and fails when the story topic is absent.
func NewClient(ctx context.Context, p Params) (*Client, error) {
	project := strings.TrimSpace(p.GCP.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	topic := strings.TrimSpace(p.PubSub.StoryTopic)
	if topic == "" {
		return nil, errors.New("pubsub story topic is required")
	}

	raw, err := gcppubsub.NewClient(ctx, project, credentialOptions(p.GCP)...)
	if err != nil {
		return nil, fmt.Errorf("dial pubsub: %w", err)
	}
	c := &Client{
		gcp:        raw,
		project:    project,
		topic:      topic,
		ordered:    p.Ordered,
		publishers: make(map[string]*gcppubsub.Publisher),
	}
	if err := c.checkTopic(ctx, topic); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if p.Logger != nil {
		p.Logger.Info(p.Logger.WithFields(ctx, map[string]any{
			"topic":   topic,
			"ordered": p.Ordered,
		}), "pubsub ready")
	}
	return c, nil
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	resource := topicResourceName(c.project, name)
	if resource == "" {
		return fmt.Errorf("topic %q: %w", name, ErrTopicMissing)
	}
	_, err := c.gcp.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: resource})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q: %w", name, ErrTopicMissing)
	default:
		return fmt.Errorf("get topic %q: %w", name, err)
	}
}

// Publisher returns the cached publisher for topic, creating it on first use.
// It returns nil for an unusable client or topic.
func (c *Client) Publisher(topic string) *gcppubsub.Publisher {
	if c == nil || c.gcp == nil {
		return nil
	}
	resource := topicResourceName(c.project, topic)
	if resource == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[resource]; ok {
		return pub
	}
	pub := c.gcp.Publisher(resource)
	pub.EnableMessageOrdering = c.ordered
	c.publishers[resource] = pub
	return pub
}

// Ping confirms the story topic is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.gcp == nil {
		return ErrNotConfigured
	}
	return c.checkTopic(ctx, c.topic)
}

// Close flushes every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.gcp == nil {
		return nil
	}
	c.mu.Lock()
	for resource, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, resource)
	}
	c.mu.Unlock()
	return c.gcp.Close()
}

func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// topicResourceName expands a short topic id to its full resource path.
// Full paths pass through untouched.
func topicResourceName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ""
	}
	if strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/") {
		return topic
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return ""
	}
	return "projects/" + project + "/topics/" + topic
}
