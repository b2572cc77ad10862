package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/Jitishkumar/pl/internal/auth"
	"github.com/Jitishkumar/pl/internal/remote"
	"github.com/Jitishkumar/pl/internal/store"
	"github.com/Jitishkumar/pl/internal/syncer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Initialize the session key from environment after .env loading
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	auth.InitSessionKey([]byte(jwtSecret))

	// The backend-issued session token identifies the local user
	sessionToken := os.Getenv("SESSION_TOKEN")
	if sessionToken == "" {
		log.Fatal("SESSION_TOKEN environment variable is required")
	}
	claims, err := auth.ParseSession(sessionToken)
	if err != nil {
		log.Fatalf("Invalid session token: %v", err)
	}
	userID, err := auth.LocalUserID(claims)
	if err != nil {
		log.Fatalf("Invalid user id in session token: %v", err)
	}

	peerIDStr := os.Getenv("PEER_ID")
	if peerIDStr == "" {
		log.Fatal("PEER_ID environment variable is required")
	}
	peerID, err := uuid.Parse(peerIDStr)
	if err != nil {
		log.Fatalf("Invalid PEER_ID: %v", err)
	}

	// Local snapshot store (default: sqlite under ./data)
	storeTypeStr := os.Getenv("STORE_TYPE")
	if storeTypeStr == "" {
		storeTypeStr = "sqlite"
	}
	storeAddr := os.Getenv("STORE_ADDR")

	var snapshots store.Store
	if store.StoreType(storeTypeStr) == store.SQLite && storeAddr == "" {
		snapshots, err = store.OpenDir("data")
	} else {
		snapshots, err = store.NewStore(store.StoreType(storeTypeStr), storeAddr)
	}
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer snapshots.Close()

	// Remote channel (default: api)
	remoteTypeStr := os.Getenv("REMOTE_TYPE")
	if remoteTypeStr == "" {
		remoteTypeStr = "api"
	}
	remoteAddr := os.Getenv("REMOTE_ADDR")
	if remoteAddr == "" {
		log.Fatal("REMOTE_ADDR environment variable is required")
	}

	channel, err := remote.NewChannel(remote.ChannelType(remoteTypeStr), remoteAddr, sessionToken)
	if err != nil {
		log.Fatalf("Failed to connect remote channel: %v", err)
	}
	defer channel.Close()
	log.Printf("Connected %s remote channel as user %s", remoteTypeStr, userID)

	controller, err := syncer.New(channel, snapshots, userID, peerID)
	if err != nil {
		log.Fatalf("Failed to create sync controller: %v", err)
	}
	defer controller.Close()

	ctx := context.Background()
	if err := controller.Start(ctx); err != nil {
		log.Fatalf("Failed to start conversation: %v", err)
	}

	render(controller, userID)
	go func() {
		for range controller.Updates() {
			render(controller, userID)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Println(`Type a message and press enter. Commands: /delete <id>, /focus, /quit`)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleLine(ctx, controller, line)
		case <-quit:
			log.Println("Shutting down")
			return
		}
	}
}

func handleLine(ctx context.Context, controller *syncer.Controller, line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		os.Exit(0)
	case line == "/focus":
		controller.Focus(ctx)
	case strings.HasPrefix(line, "/delete "):
		id, err := uuid.Parse(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")))
		if err != nil {
			fmt.Println("Usage: /delete <message id>")
			return
		}
		if err := controller.Delete(ctx, id); err != nil {
			fmt.Printf("Delete failed: %v\n", err)
		}
	default:
		if err := controller.Send(ctx, line); err != nil {
			fmt.Printf("Send failed (you can retry): %v\n", err)
		}
	}
}

func render(controller *syncer.Controller, userID uuid.UUID) {
	messages := controller.Messages()
	fmt.Printf("---- %s (%d messages) ----\n", controller.ConversationID(), len(messages))
	for _, m := range messages {
		who := "them"
		if m.SenderID == userID {
			who = "me"
		}
		status := ""
		if m.LocalOnly {
			status = " (sending)"
		} else if who == "me" && m.Read {
			status = " (read)"
		}
		fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content, status)
	}
}
