package notify

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/akmatori/incidentflow/internal/slack"
	"github.com/akmatori/incidentflow/internal/utils"
)

// maxMessageLen keeps posts well under Slack's text limit
const maxMessageLen = 4000

// SlackNotifier posts notifications to the channel configured on the manager.
// It is a no-op while Slack is disabled.
type SlackNotifier struct {
	manager *slack.Manager
}

func NewSlackNotifier(manager *slack.Manager) *SlackNotifier {
	return &SlackNotifier{manager: manager}
}

func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	client := s.manager.GetClient()
	if client == nil {
		return nil
	}

	channel, err := s.manager.Channel(ctx)
	if err != nil {
		return fmt.Errorf("slack: resolve channel: %w", err)
	}

	_, _, err = client.PostMessageContext(ctx, channel,
		slackapi.MsgOptionText(utils.TruncateForSlack(FormatForSlack(n), maxMessageLen), false),
	)
	if err != nil {
		return fmt.Errorf("slack: post %s notification: %w", n.Kind, err)
	}
	return nil
}
