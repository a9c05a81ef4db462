package notification

import (
	"errors"
	"fmt"
)

type manager struct {
	channels     []NotificationChannel
	enabled      bool
	sendCallback func(Notification)
}

// NewManager builds the channels enabled in cfg.
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	o := collect(opts)
	m := &manager{enabled: cfg.Enabled, sendCallback: o.sendCallback}
	if !cfg.Enabled {
		return m, nil
	}

	if cfg.OSNotification.Enabled {
		osOpts := []Option{WithPlatform(o.platform)}
		if o.executor != nil {
			osOpts = append(osOpts, WithCommandExecutor(o.executor))
		}
		m.channels = append(m.channels, NewOSNotificationChannel(&cfg.OSNotification, osOpts...))
	}
	if cfg.LogNotification.Enabled {
		if cfg.LogNotification.Path == "" {
			return nil, errors.New("notification log enabled without a path")
		}
		m.channels = append(m.channels, NewLogNotificationChannel(&cfg.LogNotification))
	}
	if cfg.Terminal.Enabled {
		m.channels = append(m.channels, NewTerminalChannel(&cfg.Terminal, o.terminalOut))
	}
	return m, nil
}

// Send delivers n on every channel. One failing channel does not stop the
// others; the returned error names each failed channel.
func (m *manager) Send(n Notification) error {
	if !m.enabled {
		return nil
	}
	if m.sendCallback != nil {
		m.sendCallback(n)
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *manager) Close() error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Channels lists the active channel names in delivery order.
func (m *manager) Channels() []string {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}
