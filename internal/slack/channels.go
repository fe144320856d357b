package slack

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/logging"
)

// conversationLister is the part of *slack.Client the resolver uses
type conversationLister interface {
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
}

// ChannelResolver resolves channel names to IDs
type ChannelResolver struct {
	client conversationLister
	cache  map[string]string // name -> id
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewChannelResolver creates a new channel resolver
func NewChannelResolver(client conversationLister, logger *zap.Logger) *ChannelResolver {
	return &ChannelResolver{
		client: client,
		cache:  make(map[string]string),
		logger: logging.OrNop(logger),
	}
}

// ResolveChannel resolves a channel name or ID to a channel ID.
// Accepts a channel ID (C01234567890) or a name (#alerts or alerts).
func (r *ChannelResolver) ResolveChannel(ctx context.Context, nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("channel name/ID is empty")
	}

	if isChannelID(nameOrID) {
		return nameOrID, nil
	}

	channelName := strings.TrimPrefix(nameOrID, "#")

	r.mu.RLock()
	if id, ok := r.cache[channelName]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	if r.client == nil {
		return "", fmt.Errorf("channel '%s' not found: no slack client", channelName)
	}

	id, err := r.lookupChannel(ctx, channelName)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[channelName] = id
	r.mu.Unlock()

	r.logger.Debug("resolved slack channel", zap.String("name", channelName), zap.String("id", id))
	return id, nil
}

// lookupChannel searches public channels first, then private ones
func (r *ChannelResolver) lookupChannel(ctx context.Context, name string) (string, error) {
	channels, _, err := r.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           1000,
		Types:           []string{"public_channel"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to list public channels: %w", err)
	}
	for _, channel := range channels {
		if channel.Name == name {
			return channel.ID, nil
		}
	}

	privateChannels, _, err := r.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		ExcludeArchived: true,
		Limit:           1000,
		Types:           []string{"private_channel"},
	})
	if err != nil {
		r.logger.Warn("failed to list private slack channels", zap.Error(err))
		return "", fmt.Errorf("channel '%s' not found", name)
	}
	for _, channel := range privateChannels {
		if channel.Name == name {
			return channel.ID, nil
		}
	}

	return "", fmt.Errorf("channel '%s' not found", name)
}

// ClearCache clears the channel name resolution cache
func (r *ChannelResolver) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]string)
}

// isChannelID checks if a string looks like a Slack channel ID:
// C followed by upper-case alphanumerics
func isChannelID(s string) bool {
	if len(s) < 9 || len(s) > 15 {
		return false
	}
	if !strings.HasPrefix(s, "C") {
		return false
	}
	for _, c := range s[1:] {
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
