// Command chat is a terminal client for the GlobalChat hub.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/globalchat/internal/client"
)

const sendTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := LoadConfig(args, stderr)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cfg.Store()
	if err != nil {
		return err
	}
	name := cfg.Name
	if name == "" {
		if name, err = store.LoadName(); err != nil {
			log.Warn("Could not read saved name", "path", store.Path(), "error", err)
		}
	}

	term := newTerminal(stdout, cfg.Colours)
	closed := make(chan error, 1)
	session := client.NewSession(cfg.URL, client.WebSocketDialer{},
		client.WithRetryPolicy(cfg.RetryPolicy()),
		client.WithLogger(log),
		client.OnStateChange(term.Status),
		client.OnClose(func(err error) { closed <- err }),
	)
	session.OnReceiveMessage(term.Message)

	composer := client.NewComposer(session, term,
		client.WithNameStore(store),
		client.WithComposerLogger(log),
	)
	composer.SetName(name)

	if err := session.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = session.Stop() }()

	if name == "" {
		term.Info("Choose a display name with /name <your name>")
	} else {
		term.Info(fmt.Sprintf("Chatting as %s. /name <name> to change, /quit to leave.", name))
	}

	lines := scanLines(stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			if err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch cmd, arg := command(line); cmd {
			case "/quit":
				return nil
			case "/name":
				name = strings.TrimSpace(arg)
				composer.SetName(name)
				if name != "" {
					term.Info("Chatting as " + name)
				}
			default:
				sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
				err := composer.Send(sendCtx, name, line)
				cancel()
				if err != nil && !errors.Is(err, client.ErrNoMessage) && !errors.Is(err, client.ErrNoUser) {
					log.Debug("Send failed", "error", err)
				}
			}
		}
	}
}

// command splits a "/cmd arg" line. Lines that are not commands return "".
func command(line string) (string, string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}
	cmd, arg, _ := strings.Cut(trimmed, " ")
	return strings.ToLower(cmd), arg
}

func scanLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
