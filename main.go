package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lanchat/internal/chat"
	"lanchat/internal/config"
	"lanchat/internal/network"
	"lanchat/internal/observability"
)

var session *chat.Session

func main() {
	configPath := flag.String("config", "", "path to lanchat.yaml")
	verbose := flag.Bool("verbose", false, "log at the configured level instead of warn")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if !*verbose {
		// keep the prompt readable
		cfg.Log.Level = "warn"
	}
	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		fmt.Printf("❌ Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registrar, browser, err := chat.NewBackend(cfg.Discovery, logger)
	if err != nil {
		fmt.Printf("❌ Failed to start %s discovery: %v\n", cfg.Discovery.Backend, err)
		os.Exit(1)
	}
	session, err = chat.NewSession(cfg, registrar, browser, logger)
	if err != nil {
		fmt.Printf("❌ Failed to create chat session: %v\n", err)
		os.Exit(1)
	}

	printed := make(chan struct{})
	go printEvents(printed)

	// Set up signal handling for graceful shutdown
	setupSignalHandling(printed)

	fmt.Printf("🔌 LAN chat ready (discovery: %s)\n", cfg.Discovery.Backend)
	runCommandLineInterface(cfg)

	gracefulShutdown()
	<-printed
}

func printEvents(done chan<- struct{}) {
	defer close(done)
	for ev := range session.Events() {
		switch ev.Kind {
		case network.EventMessage:
			fmt.Printf("\n💬 %s\n", ev.Text)
		case network.EventError:
			fmt.Printf("\n❌ %s\n", ev.Text)
		default:
			fmt.Printf("\n📢 %s\n", ev.Text)
		}
	}
}

func runCommandLineInterface(cfg *config.Config) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		displayMenu()
		fmt.Print("\nEnter command number: ")

		if !scanner.Scan() {
			return
		}
		choice := strings.TrimSpace(scanner.Text())

		switch choice {
		case "1":
			hostChat(scanner, cfg)
		case "2":
			joinChat()
		case "3":
			joinByAddress(scanner)
		case "4":
			sendMessage(scanner)
		case "5":
			listConnectedPeers()
		case "6":
			leaveChat()
		case "7":
			fmt.Println("Exiting application...")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
	}
}

func displayMenu() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("1. Host a chat")
	fmt.Println("2. Join a chat on this network")
	fmt.Println("3. Join a chat by address")
	fmt.Println("4. Send message")
	fmt.Println("5. List connected peers")
	fmt.Println("6. Leave chat")
	fmt.Println("7. Exit")
}

func hostChat(scanner *bufio.Scanner, cfg *config.Config) {
	fmt.Printf("Port (blank for %d): ", cfg.Host.Port)
	scanner.Scan()
	port := cfg.Host.Port
	if text := strings.TrimSpace(scanner.Text()); text != "" {
		p, err := strconv.Atoi(text)
		if err != nil || p < 0 || p > 65535 {
			fmt.Println("Invalid port number")
			return
		}
		port = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := session.Host(ctx, port); err != nil {
		zap.L().Debug("host failed", zap.Error(err))
	}
}

func joinChat() {
	if err := session.Join(context.Background()); err != nil {
		zap.L().Debug("join failed", zap.Error(err))
	}
}

func joinByAddress(scanner *bufio.Scanner) {
	fmt.Print("Enter host address (ip:port): ")
	scanner.Scan()
	hostPart, portPart, err := net.SplitHostPort(strings.TrimSpace(scanner.Text()))
	if err != nil {
		fmt.Println("Invalid address format. Use ip:port")
		return
	}
	port, err := strconv.Atoi(portPart)
	if err != nil {
		fmt.Println("Invalid port number")
		return
	}
	if err := session.JoinAddress(context.Background(), hostPart, port); err != nil {
		zap.L().Debug("join failed", zap.Error(err))
	}
}

func sendMessage(scanner *bufio.Scanner) {
	fmt.Print("Message: ")
	scanner.Scan()
	text := scanner.Text()
	if strings.TrimSpace(text) == "" {
		return
	}
	// failures are reported as events
	_ = session.Send(text)
}

func listConnectedPeers() {
	if session.Role() != chat.RoleHosting {
		if server := session.Server(); server != "" {
			fmt.Printf("\nConnected to host %s\n", server)
			return
		}
		fmt.Println("\nNot hosting a chat")
		return
	}

	fmt.Printf("\nConnected peers (%s):\n", session.ServiceName())
	peers := session.Peers()
	if len(peers) == 0 {
		fmt.Println("No peers connected")
		return
	}
	for i, p := range peers {
		fmt.Printf("%d. %s (since %s)\n", i+1, p.Address, p.ConnectedAt.Format(time.Kitchen))
	}
}

func leaveChat() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Teardown(ctx); err != nil {
		zap.L().Debug("teardown failed", zap.Error(err))
	}
}

func setupSignalHandling(printed <-chan struct{}) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("\nReceived termination signal")
		gracefulShutdown()
		<-printed
		os.Exit(0)
	}()
}

func gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Close(ctx); err != nil {
		fmt.Printf("⚠️ Shutdown finished with errors: %v\n", err)
		return
	}
	fmt.Println("Shutdown complete")
}
