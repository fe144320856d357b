package slack

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/akmatori/incidentflow/internal/logging"
)

// Settings holds what the manager needs to build a Slack web client
type Settings struct {
	BotToken string
	Channel  string
	ProxyURL string
	APIURL   string // overrides https://slack.com/api/, mainly for tests
}

// IsActive reports whether Slack notifications are configured
func (s Settings) IsActive() bool {
	return s.BotToken != "" && s.Channel != ""
}

// Manager manages the Slack client lifecycle with hot-reload support
type Manager struct {
	mu sync.RWMutex

	client   *slack.Client
	resolver *ChannelResolver
	settings Settings

	reloadChan chan Settings
	logger     *zap.Logger
}

// NewManager creates a new Slack manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		reloadChan: make(chan Settings, 1),
		logger:     logging.OrNop(logger),
	}
}

// GetClient returns the current Slack client (may be nil if not configured)
func (m *Manager) GetClient() *slack.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// IsActive returns true if a client is configured
func (m *Manager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Channel returns the configured notification channel, resolved to an id when possible
func (m *Manager) Channel(ctx context.Context) (string, error) {
	m.mu.RLock()
	resolver, channel := m.resolver, m.settings.Channel
	m.mu.RUnlock()

	if resolver == nil {
		return channel, nil
	}
	return resolver.ResolveChannel(ctx, channel)
}

// Start builds the Slack client from settings. Inactive settings leave Slack disabled.
func (m *Manager) Start(settings Settings) error {
	if !settings.IsActive() {
		m.logger.Info("slack is disabled (token or channel not configured)")
		m.Stop()
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	options := []slack.Option{slack.OptionDebug(false)}
	if settings.APIURL != "" {
		options = append(options, slack.OptionAPIURL(settings.APIURL))
	}

	if settings.ProxyURL != "" {
		proxyURL, err := url.Parse(settings.ProxyURL)
		if err != nil {
			m.logger.Warn("ignoring invalid slack proxy url", zap.String("proxy_url", settings.ProxyURL), zap.Error(err))
		} else {
			httpClient := &http.Client{
				Transport: &http.Transport{
					Proxy: http.ProxyURL(proxyURL),
				},
			}
			options = append(options, slack.OptionHTTPClient(httpClient))
			m.logger.Info("slack using proxy", zap.String("proxy_url", settings.ProxyURL))
		}
	}

	m.client = slack.New(settings.BotToken, options...)
	m.resolver = NewChannelResolver(m.client, m.logger)
	m.settings = settings

	m.logger.Info("slack integration is active", zap.String("channel", settings.Channel))
	return nil
}

// Stop drops the current client
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return
	}
	m.client = nil
	m.resolver = nil
	m.settings = Settings{}
	m.logger.Info("slack integration stopped")
}

// TriggerReload queues new settings (non-blocking); a pending reload is replaced
func (m *Manager) TriggerReload(settings Settings) {
	for {
		select {
		case m.reloadChan <- settings:
			return
		default:
		}
		select {
		case <-m.reloadChan:
			m.logger.Debug("slack reload already pending, replacing settings")
		default:
		}
	}
}

// WatchForReloads applies queued settings until ctx is done
func (m *Manager) WatchForReloads(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case settings := <-m.reloadChan:
			if err := m.Start(settings); err != nil {
				m.logger.Warn("slack reload failed", zap.Error(err))
			}
		}
	}
}
