package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/storyline-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project string
		name    string
		want    string
	}{
		{"story-proj", "sl-story-events", "projects/story-proj/topics/sl-story-events"},
		{"story-proj", " sl-story-events ", "projects/story-proj/topics/sl-story-events"},
		{"other", "projects/story-proj/topics/x", "projects/story-proj/topics/x"},
		{"", "sl-story-events", ""},
		{"story-proj", "", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("x") != nil {
		t.Fatal("expected nil publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCredentialOptions(t *testing.T) {
	cases := map[string]struct {
		gcp  config.GCPConfig
		want int
	}{
		"none":      {config.GCPConfig{}, 0},
		"blank":     {config.GCPConfig{CredentialsJSON: "  "}, 0},
		"inline":    {config.GCPConfig{CredentialsJSON: "{}", ApplicationCredentials: "/tmp/creds.json"}, 1},
		"file only": {config.GCPConfig{ApplicationCredentials: "/tmp/creds.json"}, 1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := len(credentialOptions(tc.gcp)); got != tc.want {
				t.Fatalf("expected %d options, got %d", tc.want, got)
			}
		})
	}
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, Params{PubSub: config.PubSubConfig{StoryTopic: "t"}}); err == nil {
		t.Fatal("expected missing project to fail")
	}
	if _, err := NewClient(ctx, Params{GCP: config.GCPConfig{ProjectID: "p"}}); err == nil {
		t.Fatal("expected missing topic to fail")
	}
}
