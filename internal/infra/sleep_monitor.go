package infra

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	login1Interface = "org.freedesktop.login1.Manager"
	prepareForSleep = "PrepareForSleep"
)

// SleepMonitor watches logind's PrepareForSleep signal and reports resumes.
type SleepMonitor struct {
	conn    *dbus.Conn
	logger  *zap.Logger
	resumed chan struct{}
}

// NewSleepMonitor subscribes on the system bus. Callers treat an error as
// "no resume notifications" and carry on.
func NewSleepMonitor(logger *zap.Logger) (*SleepMonitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(prepareForSleep),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", prepareForSleep, err)
	}
	return &SleepMonitor{
		conn:    conn,
		logger:  logger,
		resumed: make(chan struct{}, 1),
	}, nil
}

// Resumed fires once per wake from sleep.
func (m *SleepMonitor) Resumed() <-chan struct{} {
	return m.resumed
}

// Run forwards resume signals until ctx is done.
func (m *SleepMonitor) Run(ctx context.Context) {
	signals := make(chan *dbus.Signal, 8)
	m.conn.Signal(signals)
	defer m.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if !isResume(sig) {
				continue
			}
			m.logger.Info("system resumed from sleep")
			select {
			case m.resumed <- struct{}{}:
			default: // One pending notification is enough
			}
		}
	}
}

// Close drops the bus connection.
func (m *SleepMonitor) Close() error {
	return m.conn.Close()
}

// isResume reports PrepareForSleep(false), sent after wake-up.
func isResume(sig *dbus.Signal) bool {
	if sig == nil || sig.Name != login1Interface+"."+prepareForSleep || len(sig.Body) == 0 {
		return false
	}
	going, ok := sig.Body[0].(bool)
	return ok && !going
}
