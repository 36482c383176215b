// Package tmux wraps the external tmux binary for session lifecycle,
// keystroke injection, and pane inspection. The service is a thin stateless
// wrapper: it holds no cache, every call queries tmux directly, so callers
// must tolerate name lists going stale between calls.
package tmux

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/magenthq/magent-core/errs"
	pexec "github.com/magenthq/magent-core/exec"
	"github.com/magenthq/magent-core/logger"
)

// CommandTimeout bounds every tmux invocation. tmux queries are local and
// fast; anything slower than this means the server is wedged.
const CommandTimeout = 5 * time.Second

// Service provides tmux operations with explicit dependency injection.
type Service struct {
	executor pexec.CommandExecutor
}

// NewService creates a new Service with the default real executor.
func NewService() *Service {
	return &Service{executor: pexec.NewRealExecutor()}
}

// NewServiceWithExecutor creates a new Service with a custom executor.
// This is primarily used for testing where a mock executor is needed.
func NewServiceWithExecutor(exec pexec.CommandExecutor) *Service {
	return &Service{executor: exec}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CommandTimeout)
}

// CreateSession creates a detached session rooted at workDir. Extra
// environment variables (KEY=VALUE) are injected into the session via -e.
// If initialCommand is non-empty it is typed into the new session followed
// by Enter.
func (s *Service) CreateSession(ctx context.Context, name, workDir string, env []string, initialCommand string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args := []string{"new-session", "-d", "-s", name, "-c", workDir}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}

	output, err := s.executor.CombinedOutput(ctx, "", "tmux", args...)
	if err != nil {
		return errs.ExternalTool(err, "tmux new-session failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("tmux").Info("session created", "name", name, "workDir", workDir)

	if initialCommand != "" {
		if err := s.SendKeys(ctx, name, initialCommand, false); err != nil {
			return err
		}
	}
	return nil
}

// KillSession kills the named session. Killing a session that does not
// exist is not an error.
func (s *Service) KillSession(ctx context.Context, name string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, "", "tmux", "kill-session", "-t", "="+name)
	if err != nil {
		if strings.Contains(string(output), "can't find session") {
			return nil
		}
		return errs.ExternalTool(err, "tmux kill-session failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("tmux").Info("session killed", "name", name)
	return nil
}

// RenameSession renames a session in place. Panes and their running
// processes are untouched.
func (s *Service) RenameSession(ctx context.Context, oldName, newName string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, "", "tmux", "rename-session", "-t", "="+oldName, newName)
	if err != nil {
		return errs.ExternalTool(err, "tmux rename-session failed: %s", strings.TrimSpace(string(output)))
	}

	logger.WithComponent("tmux").Info("session renamed", "oldName", oldName, "newName", newName)
	return nil
}

// SessionExists reports whether the named session exists. The "=" prefix
// forces exact matching, otherwise tmux matches by prefix.
func (s *Service) SessionExists(ctx context.Context, name string) bool {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, _, err := s.executor.Run(ctx, "", "tmux", "has-session", "-t", "="+name)
	return err == nil
}

// ListSessions returns the names of all running sessions. A missing tmux
// server means no sessions, not an error.
func (s *Service) ListSessions(ctx context.Context) ([]string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.CombinedOutput(ctx, "", "tmux", "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(string(output), "no server running") ||
			strings.Contains(string(output), "No such file or directory") {
			return nil, nil
		}
		return nil, errs.ExternalTool(err, "tmux list-sessions failed: %s", strings.TrimSpace(string(output)))
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// SendKeys sends text to the session's active pane. In literal mode the
// text is passed through unchanged with no trailing Enter; otherwise the
// text is typed and submitted with Enter.
func (s *Service) SendKeys(ctx context.Context, name, text string, literal bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	args := []string{"send-keys", "-t", "=" + name}
	if literal {
		args = append(args, "-l", text)
	} else {
		args = append(args, text, "Enter")
	}

	output, err := s.executor.CombinedOutput(ctx, "", "tmux", args...)
	if err != nil {
		return errs.ExternalTool(err, "tmux send-keys failed: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

// CapturePane returns the last n lines of the session's active pane.
func (s *Service) CapturePane(ctx context.Context, name string, lines int) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.Output(ctx, "", "tmux", "capture-pane", "-p", "-t", "="+name,
		"-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", errs.ExternalTool(err, "tmux capture-pane failed for %s", name)
	}
	return string(output), nil
}

// ReadAndClearBellFlag reports whether the session's active window has a
// pending bell. tmux clears the flag when a client focuses the window;
// with no client attached the flag is cleared best-effort by toggling
// bell monitoring for the window.
func (s *Service) ReadAndClearBellFlag(ctx context.Context, name string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	output, err := s.executor.Output(ctx, "", "tmux", "display-message", "-p", "-t", "="+name, "#{window_bell_flag}")
	if err != nil {
		return false, errs.ExternalTool(err, "tmux display-message failed for %s", name)
	}

	rang := strings.TrimSpace(string(output)) == "1"
	if rang {
		if _, _, err := s.executor.Run(ctx, "", "tmux", "set-option", "-w", "-t", "="+name, "monitor-bell", "off"); err == nil {
			s.executor.Run(ctx, "", "tmux", "set-option", "-w", "-t", "="+name, "monitor-bell", "on")
		}
	}
	return rang, nil
}

// ApplyGlobalSettings sets server-wide options the engine depends on:
// bells are monitored but never audible, and escape sequences pass through
// without the default half-second delay.
func (s *Service) ApplyGlobalSettings(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	settings := [][]string{
		{"set-option", "-g", "monitor-bell", "on"},
		{"set-option", "-g", "bell-action", "none"},
		{"set-option", "-g", "escape-time", "10"},
	}
	for _, args := range settings {
		if output, err := s.executor.CombinedOutput(ctx, "", "tmux", args...); err != nil {
			return errs.ExternalTool(err, "tmux %s failed: %s", strings.Join(args, " "), strings.TrimSpace(string(output)))
		}
	}

	logger.WithComponent("tmux").Info("global settings applied")
	return nil
}
