package notify

import (
	"fmt"
	"sort"
	"strings"
)

// FormatForSlack renders a notification as Slack mrkdwn
func FormatForSlack(n Notification) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s *%s*", kindEmoji(n.Kind), n.Title))
	if n.Severity != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", n.Severity))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Incident `%s`\n", n.IncidentID))

	if n.Message != "" {
		sb.WriteString("\n")
		sb.WriteString(n.Message)
		sb.WriteString("\n")
	}

	if len(n.Actions) > 0 {
		sb.WriteString("\n*Actions*\n")
		for _, action := range n.Actions {
			sb.WriteString(fmt.Sprintf("• %s\n", action))
		}
	}

	if len(n.Metadata) > 0 {
		keys := make([]string, 0, len(n.Metadata))
		for k := range n.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("_%s_: %v\n", k, n.Metadata[k]))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func kindEmoji(k Kind) string {
	switch k {
	case KindActionExecuted:
		return ":white_check_mark:"
	case KindActionFailed:
		return ":x:"
	case KindApprovalRequested:
		return ":raised_hand:"
	case KindRollback:
		return ":rewind:"
	case KindEscalation:
		return ":rotating_light:"
	default:
		return ":information_source:"
	}
}
