package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatspace/chat"
	"chatspace/metrics"
	"chatspace/pkg/logger"
)

const version = "1.0.0"

func main() {
	var serverAddr string
	var name string

	root := &cobra.Command{
		Use:           "chatspace-client",
		Short:         "chatspace-client",
		Long:          "chatspace-client connects to a chatspace-server and drives the group-chat protocol from a terminal.",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(serverAddr, name)
		},
	}
	root.Flags().StringVar(&serverAddr, "server", "127.0.0.1:9999", "server address to connect to")
	root.Flags().StringVar(&name, "name", "", "display name to log in with")

	if err := root.Execute(); err != nil {
		logger.Fatal("%v", err)
	}
}

func runClient(serverAddr, name string) error {
	logger.Banner("ChatSpace Client", version)

	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return err
	}

	c, err := chat.NewClient(0, addr, 5*time.Second)
	if err != nil {
		return err
	}
	defer c.Shutdown()

	c.OnEnvelope(printEnvelope)

	if name == "" {
		name = fmt.Sprintf("guest-%d", os.Getpid())
	}
	if err := c.Login(name); err != nil {
		return err
	}
	logger.Success("connected to %s as %s", serverAddr, name)
	logger.Info("commands: /join <room>, /leave <room>, /msg <room> <text>, /dm <user> <text>, /stats, /quit")

	reporter := metrics.NewReporter(c, "Client")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatchCommand(c, reporter, line); err != nil {
			if err == errQuit {
				break
			}
			logger.Warn("%v", err)
		}
	}
	return nil
}

var errQuit = fmt.Errorf("quit")

func dispatchCommand(c *chat.Client, reporter *metrics.Reporter, line string) error {
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "/join":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /join <room>")
		}
		return c.Join(fields[1])
	case "/leave":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /leave <room>")
		}
		return c.Leave(fields[1])
	case "/msg":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /msg <room> <text>")
		}
		return c.SendMsg(fields[1], fields[2])
	case "/dm":
		if len(fields) < 3 {
			return fmt.Errorf("usage: /dm <user> <text>")
		}
		return c.SendDM(fields[1], fields[2])
	case "/stats":
		reporter.PrintReport()
		return nil
	case "/quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s", fields[0])
	}
}

func printEnvelope(env chat.Envelope) {
	switch env.Type {
	case chat.TypeInfo:
		logger.Info("%s", env.Msg)
	case chat.TypeChat:
		fmt.Printf("[%s] %s: %s\n", env.Room, env.Sender, env.Text)
	case chat.TypeDM:
		fmt.Printf("[DM from %s] %s\n", env.Sender, env.Text)
	case chat.TypeHistory:
		fmt.Printf("--- history for %s ---\n", env.Room)
		for _, h := range env.History {
			fmt.Printf("  %s: %s\n", h.Sender, h.Text)
		}
	default:
		logger.Warn("unhandled message type %q", env.Type)
	}
}
