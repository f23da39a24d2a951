package ipc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
)

const (
	commandFileName     = "cmd.txt"
	defaultPollFallback = time.Second
)

// CommandPath returns the command file path in a state directory.
func CommandPath(stateDir string) string {
	return filepath.Join(stateDir, commandFileName)
}

// WriteCommand drops a command for the running daemon.
func WriteCommand(stateDir string, cmd domain.Command) error {
	if !validCommand(cmd) {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(stateDir, commandFileName+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(string(cmd)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), CommandPath(stateDir))
}

// ReadCommand reads and clears the command file.
// Returns an empty command when nothing is pending or the content is unknown.
func ReadCommand(stateDir string) (domain.Command, error) {
	path := CommandPath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	if err := os.WriteFile(path, nil, 0600); err != nil {
		return "", err
	}

	cmd := domain.Command(strings.TrimSpace(string(data)))
	if !validCommand(cmd) {
		return "", nil
	}
	return cmd, nil
}

// ClearCommand drops any pending command. Called once the instance lock is
// held, so a command aimed at a previous instance is not delivered to this one.
func ClearCommand(stateDir string) error {
	if err := os.Remove(CommandPath(stateDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear command file: %w", err)
	}
	return nil
}

func validCommand(cmd domain.Command) bool {
	switch cmd {
	case domain.CmdRestore, domain.CmdQuit:
		return true
	}
	return false
}

// CommandWatcher delivers commands written into the state directory.
// It uses fsnotify and keeps a polling ticker as fallback.
type CommandWatcher struct {
	stateDir     string
	pollInterval time.Duration
	logger       *zap.Logger
	commands     chan domain.Command
}

// NewCommandWatcher creates a watcher for stateDir.
func NewCommandWatcher(stateDir string, logger *zap.Logger) *CommandWatcher {
	return &CommandWatcher{
		stateDir:     stateDir,
		pollInterval: defaultPollFallback,
		logger:       logger,
		commands:     make(chan domain.Command, 4),
	}
}

// Commands returns the delivery channel.
func (w *CommandWatcher) Commands() <-chan domain.Command {
	return w.commands
}

// Run watches until ctx is done. A command already pending at start is delivered.
func (w *CommandWatcher) Run(ctx context.Context) {
	if err := os.MkdirAll(w.stateDir, 0700); err != nil {
		w.logger.Warn("failed to create state directory", zap.Error(err))
	}
	w.check(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify not available, falling back to polling", zap.Error(err))
		w.poll(ctx)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.stateDir); err != nil {
		w.logger.Warn("failed to watch state directory, falling back to polling", zap.Error(err))
		w.poll(ctx)
		return
	}

	cmdPath := CommandPath(w.stateDir)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				w.logger.Warn("fsnotify watcher closed, switching to polling")
				w.poll(ctx)
				return
			}
			if event.Name == cmdPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.check(ctx)
			}
		case err, ok := <-watcher.Errors:
			if ok {
				w.logger.Warn("fsnotify error", zap.Error(err))
			}
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *CommandWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *CommandWatcher) check(ctx context.Context) {
	cmd, err := ReadCommand(w.stateDir)
	if err != nil {
		w.logger.Warn("failed to read command file", zap.Error(err))
		return
	}
	if cmd == "" {
		return
	}
	w.logger.Info("command received", zap.String("command", string(cmd)))
	select {
	case w.commands <- cmd:
	case <-ctx.Done():
	}
}
