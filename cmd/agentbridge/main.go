package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/codefionn/agentbridge/internal/config"
	"github.com/codefionn/agentbridge/internal/gateway"
	"github.com/codefionn/agentbridge/internal/logger"
	"github.com/codefionn/agentbridge/internal/pidfile"
	"github.com/codefionn/agentbridge/internal/protocol"
	"github.com/codefionn/agentbridge/internal/securemem"
	"github.com/codefionn/agentbridge/internal/statesink"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	var (
		configPath = flag.String("config", config.GetConfigPath(), "path to config file")
		gatewayURL = flag.String("url", "", "gateway URL (overrides config)")
		sessionKey = flag.String("session", "", "session key (overrides config)")
		logLevel   = flag.String("log-level", "", "log level: debug, info, warn, error, none")
		console    = flag.Bool("console-log", false, "log to stderr instead of the log file")
	)
	flag.Parse()

	securemem.Init()
	defer securemem.Purge()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *gatewayURL != "" {
		cfg.Gateway.URL = *gatewayURL
	}
	if *sessionKey != "" {
		cfg.Gateway.SessionKey = *sessionKey
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if envLevel := strings.TrimSpace(os.Getenv("AGENTBRIDGE_LOG_LEVEL")); envLevel != "" && *logLevel == "" {
		cfg.LogLevel = envLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if *console {
		logger.InitConsole(level)
	} else if err := logger.Init(level, cfg.LogPath); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		_ = logger.Global().Close()
	}()

	releasePid, err := pidfile.Acquire(cfg.State.DatabasePath + ".pid")
	if err != nil {
		return err
	}
	defer releasePid()

	store, err := statesink.Open(cfg.State.DatabasePath, cfg.State.HistoryLimit)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	tokens := securemem.NewTokenStore(cfg.Auth.TokenEnvVar, cfg.Auth.TokenFile)
	defer tokens.Close()

	client := gateway.New(gatewayConfig(cfg), gateway.Deps{
		Tokens: tokens,
		Sink:   store,
		OnConnected: func() {
			fmt.Println("connected")
		},
		OnDisconnected: func() {
			fmt.Println("disconnected, retrying in background")
		},
	})

	stopWatch, err := config.Watch(*configPath, func(next *config.Config) {
		// Endpoint changes take effect on the next restart, but a rotated
		// token should be picked up by the next handshake.
		tokens.Invalidate()
		client.ReconnectIfNeeded()
	})
	if err != nil {
		logger.Warn("config watch unavailable: %v", err)
	} else {
		defer stopWatch()
	}

	client.Connect()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go readLines(lines)

	fmt.Printf("agentbridge attached to %s (%s)\n", cfg.Gateway.URL, cfg.Gateway.SessionKey)
	fmt.Println("commands: /quick <text>, /sessions, /status, /quit; anything else is sent as chat")

	for {
		select {
		case <-sigC:
			fmt.Println()
			client.Disconnect()
			return nil
		case line, ok := <-lines:
			if !ok {
				client.Disconnect()
				return nil
			}
			if done := handleLine(client, line); done {
				client.Disconnect()
				return nil
			}
		}
	}
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	hostname, _ := os.Hostname()
	return gateway.Config{
		URL:        cfg.Gateway.URL,
		SessionKey: cfg.Gateway.SessionKey,
		Client: protocol.ClientInfo{
			ID:       cfg.Client.ID,
			Version:  cfg.Client.Version,
			Platform: runtime.GOOS + "/" + hostname,
			Mode:     cfg.Client.Mode,
		},
		Role:        cfg.Gateway.Role,
		Scopes:      cfg.Gateway.Scopes,
		Caps:        cfg.Gateway.Caps,
		MinProtocol: cfg.Gateway.MinProtocol,
		MaxProtocol: cfg.Gateway.MaxProtocol,

		HistoryLimit:          cfg.Gateway.HistoryLimit,
		SessionsLimit:         cfg.Gateway.SessionsLimit,
		SessionsActiveMinutes: cfg.Gateway.SessionsActiveMinutes,
		SessionsMessageLimit:  cfg.Gateway.SessionsMessageLimit,

		PingInterval:        secs(cfg.Gateway.PingIntervalSeconds),
		PollInterval:        secs(cfg.Gateway.PollIntervalSeconds),
		GraceWindow:         secs(cfg.Gateway.GraceWindowSeconds),
		RetryDelay:          secs(cfg.Gateway.RetryDelaySeconds),
		HandshakeTimeout:    secs(cfg.Gateway.HandshakeTimeoutSecs),
		QuickCommandTimeout: secs(cfg.Gateway.QuickTimeoutSeconds),
	}
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func readLines(out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out <- scanner.Text()
	}
	close(out)
}

func handleLine(client *gateway.Client, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch {
	case line == "/quit" || line == "/exit":
		return true

	case line == "/status":
		printStatus(client)

	case line == "/sessions":
		printSessions(client)

	case strings.HasPrefix(line, "/quick "):
		text := strings.TrimSpace(strings.TrimPrefix(line, "/quick "))
		err := client.SendQuickCommand(text, func(result string, err error) {
			if err != nil {
				fmt.Printf("quick command failed: %v\n", err)
				return
			}
			fmt.Printf("quick> %s\n", result)
		})
		if err != nil {
			fmt.Printf("cannot send: %v\n", err)
		}

	case strings.HasPrefix(line, "/"):
		fmt.Printf("unknown command %q\n", line)

	default:
		if err := client.SendChat(line); err != nil {
			fmt.Printf("cannot send: %v\n", err)
		}
	}
	return false
}

func printStatus(client *gateway.Client) {
	snap := client.Snapshot()
	fmt.Printf("state: %s", snap.State)
	if snap.ConnectionError != "" {
		fmt.Printf(" (%s)", snap.ConnectionError)
	}
	fmt.Println()
	if snap.Connected {
		fmt.Printf("uptime: %s\n", snap.SessionUptime.Round(time.Second))
	}
	if snap.ModelName != "" {
		fmt.Printf("model: %s\n", snap.ModelName)
	}
	if snap.CurrentTask != "" {
		fmt.Printf("task: %s\n", snap.CurrentTask)
	}
	if snap.Thinking {
		fmt.Println("agent is responding...")
	}
	fmt.Printf("messages: %d, sub-agents: %d\n", len(snap.Messages), snap.ActiveSubAgents)
}

func printSessions(client *gateway.Client) {
	sessions := client.ActiveSessions()
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return
	}
	for _, s := range sessions {
		marker := " "
		if s.IsActive {
			marker = "*"
		}
		label := s.Label
		if label == "" {
			label = s.Key
		}
		fmt.Printf("%s [%s] %s\n", marker, s.Kind, label)
	}
}
