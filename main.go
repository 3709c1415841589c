package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"multicompletion/config"
	"multicompletion/logger"

	"github.com/alexflint/go-arg"
)

const (
	ProgramName = "multicompletion"
	Version     = "v0.1.0"
)

type args struct {
	Daemon   bool   `arg:"--daemon" help:"run the background daemon instead of the stdio relay"`
	Config   string `arg:"--config,env:MULTICOMPLETION_CONFIG_FILE" help:"YAML settings file, watched for changes"`
	LogLevel string `arg:"--log-level" help:"override log_level (trace, debug, info, warn, error)"`
}

func (args) Version() string {
	return fmt.Sprintf("%s %s", ProgramName, Version)
}

func (args) Description() string {
	return "Inline code completions for Neovim from OpenAI-compatible servers."
}

type ServerMode string

const (
	ModeDaemon ServerMode = "daemon"
	ModeClient ServerMode = "client"
)

// runtimePath returns name placed next to the executable
func runtimePath(name string) string {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	return filepath.Join(filepath.Dir(execPath), name)
}

// Setup logger to log to a file in the same directory as the executable
// Caller must defer logger.Close()
func setupLogger(logLevel string) *logger.LimitedLogger {
	f, err := os.OpenFile(runtimePath(ProgramName+".log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening file: %v", err)
	}

	limitedLogger := logger.NewLimitedLogger(f, logger.ParseLogLevel(logLevel))
	log.SetOutput(limitedLogger)
	return limitedLogger
}

func getSocketPath() string {
	return runtimePath(ProgramName + ".sock")
}

func getPidPath() string {
	return runtimePath(ProgramName + ".pid")
}

func isDaemonRunning() (bool, int) {
	data, err := os.ReadFile(getPidPath())
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}

func loadConfig(a args) *config.Store {
	store, err := config.Load(os.Getenv(config.EnvConfig), a.Config)
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	return store
}

func runDaemon(a args) {
	store := loadConfig(a)

	logLevel := store.Snapshot().LogLevel
	if a.LogLevel != "" {
		logLevel = a.LogLevel
	}

	limitedLogger := setupLogger(logLevel)
	defer limitedLogger.Close()

	s := store.Snapshot()
	log.Printf("config: endpoint=%s model=%s chat=%v max_lines=%d file=%q",
		s.ActiveEndpoint, s.Model(), s.ChatMode, s.MaxLines, store.FilePath())

	daemon := NewDaemon(store)
	if err := daemon.Start(); err != nil {
		log.Fatalf("error starting daemon: %v", err)
	}
}

func runClient(a args) {
	client := NewClient(a)

	if err := client.EnsureDaemonRunning(); err != nil {
		log.Fatalf("error ensuring daemon is running: %v", err)
	}

	if err := client.Connect(); err != nil {
		log.Fatalf("error connecting to daemon: %v", err)
	}
}

func main() {
	var a args
	arg.MustParse(&a)

	mode := ModeClient
	if a.Daemon {
		mode = ModeDaemon
	}

	switch mode {
	case ModeDaemon:
		runDaemon(a)
	case ModeClient:
		runClient(a)
	}
}
