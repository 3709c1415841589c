// Package commands implements the editor commands sent over the
// multicompletion_command notification.
package commands

import (
	"fmt"
	"sort"
	"strings"

	"multicompletion/config"
	"multicompletion/logger"
)

// SettingsStore reads and mutates the process-wide settings
type SettingsStore interface {
	Snapshot() config.Settings
	Update(fn func(s *config.Settings)) (config.Settings, error)
}

// Notifier shows a message to the user.
// Implemented by buffer.NvimBuffer.
type Notifier interface {
	Notify(msg string, warn bool) error
}

// Engine is the part of the engine commands drive.
// Implemented by engine.Engine.
type Engine interface {
	Dismiss()
	Regenerate()
}

type command func(h *Handler, args []string) error

var commandTable = map[string]command{
	"toggle":                    (*Handler).toggle,
	"select_endpoint":           (*Handler).selectEndpoint,
	"regenerate":                (*Handler).regenerate,
	"apply_context_gitignore":   (*Handler).applyContextGitignore,
	"disable_context_gitignore": (*Handler).disableContextGitignore,
}

// Names returns the registered command names, sorted
func Names() []string {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Handler struct {
	settings SettingsStore
	notifier Notifier
	engine   Engine
}

func New(settings SettingsStore, notifier Notifier, engine Engine) *Handler {
	return &Handler{settings: settings, notifier: notifier, engine: engine}
}

// Handle runs the command named by args[0] with the remaining arguments
func (h *Handler) Handle(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command name")
	}
	name, rest := args[0], args[1:]
	cmd, ok := commandTable[name]
	if !ok {
		h.notify(fmt.Sprintf("multicompletion: unknown command %q", name), true)
		return fmt.Errorf("unknown command %q", name)
	}
	logger.Debug("command: %s %q", name, rest)
	if err := cmd(h, rest); err != nil {
		logger.Error("command %s failed: %v", name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (h *Handler) toggle(args []string) error {
	next, err := h.settings.Update(func(s *config.Settings) {
		s.InlineSuggestEnabled = !s.InlineSuggestEnabled
	})
	if err != nil {
		// The in-memory toggle still applies; only persisting failed.
		logger.Warn("toggle: %v", err)
	}

	if next.InlineSuggestEnabled {
		h.notify("multicompletion enabled!", false)
	} else {
		h.engine.Dismiss()
		h.notify("multicompletion disabled!", false)
	}
	logger.Info("inline suggestions enabled=%v", next.InlineSuggestEnabled)
	return nil
}

func (h *Handler) selectEndpoint(args []string) error {
	current := h.settings.Snapshot()

	if len(args) == 0 {
		h.notify(endpointList(current), false)
		return nil
	}

	target := strings.TrimSpace(strings.Join(args, " "))
	url := ""
	if ep, ok := current.FindEndpoint(target); ok {
		url = ep.URL
	} else if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		url = target
	} else {
		h.notify(fmt.Sprintf("multicompletion: no endpoint named %q", target), true)
		return fmt.Errorf("unknown endpoint %q", target)
	}

	next, err := h.settings.Update(func(s *config.Settings) {
		s.ActiveEndpoint = url
	})
	if err != nil {
		logger.Warn("select_endpoint: %v", err)
	}
	h.engine.Dismiss()
	h.notify(fmt.Sprintf("multicompletion endpoint: %s", next.ActiveEndpoint), false)
	return nil
}

func (h *Handler) regenerate(args []string) error {
	h.engine.Regenerate()
	return nil
}

func (h *Handler) applyContextGitignore(args []string) error {
	return h.setContextGitignore(true)
}

func (h *Handler) disableContextGitignore(args []string) error {
	return h.setContextGitignore(false)
}

func (h *Handler) setContextGitignore(enabled bool) error {
	_, err := h.settings.Update(func(s *config.Settings) {
		s.ContextGitignore = enabled
	})
	if err != nil {
		return err
	}
	logger.Info("context_gitignore=%v", enabled)
	return nil
}

func (h *Handler) notify(msg string, warn bool) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Notify(msg, warn); err != nil {
		logger.Warn("notify failed: %v", err)
	}
}

// endpointList renders the configured endpoints, marking the active one
func endpointList(s config.Settings) string {
	var b strings.Builder
	b.WriteString("multicompletion endpoints:")
	if len(s.Endpoints) == 0 {
		fmt.Fprintf(&b, "\n* %s", s.ActiveEndpoint)
		return b.String()
	}
	for _, ep := range s.Endpoints {
		marker := " "
		if strings.TrimRight(ep.URL, "/") == s.ActiveEndpoint {
			marker = "*"
		}
		fmt.Fprintf(&b, "\n%s %s (%s)", marker, ep.Name, ep.URL)
	}
	return b.String()
}
