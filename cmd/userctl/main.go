package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-federation/internal/config"
	"github.com/celerix-dev/celerix-federation/internal/logger"
	"github.com/celerix-dev/celerix-federation/pkg/schema"
	"github.com/celerix-dev/celerix-federation/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cfg, err := config.NewConfig(config.Config{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.Must(cfg.LogLevel)
	defer log.Sync()

	addr := cfg.Remotes.HostStoreAddr
	if addr == "" {
		addr = "localhost:" + cfg.Store.Port
	}

	opts := []sdk.ClientOption{sdk.WithLogger(log), sdk.WithTimeout(10 * time.Second)}
	if cfg.Store.DisableTLS {
		opts = append(opts, sdk.WithoutTLS())
	}
	client, err := sdk.Connect(addr, opts...)
	if err != nil {
		log.Fatal("failed to connect", zap.String("addr", addr), zap.Error(err))
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, client, strings.ToUpper(os.Args[1]), os.Args[2:]); err != nil {
		log.Fatal("command failed", zap.Error(err))
	}
}

func run(ctx context.Context, client *sdk.Client, command string, args []string) error {
	switch command {
	case "LIST":
		if err := client.FetchUsers(ctx); err != nil {
			return err
		}
		filter := ""
		if len(args) > 0 {
			filter = args[0]
		}
		switch strings.ToLower(filter) {
		case "":
			printJSON(client.AllUsers())
		case "active":
			printJSON(client.ActiveUsers())
		case "inactive":
			printJSON(client.InactiveUsers())
		default:
			printJSON(client.UsersByRole(filter))
		}

	case "GET":
		id, err := idArg(args, "GET <id>")
		if err != nil {
			return err
		}
		u, err := sdk.Lookup(ctx, client, id)
		if errors.Is(err, sdk.ErrUserNotFound) {
			return errors.New(client.ErrorMessage())
		}
		if err != nil {
			return err
		}
		printJSON(u)

	case "CREATE":
		if len(args) < 1 {
			return errors.New("usage: userctl CREATE <json>")
		}
		var in schema.UserInput
		if err := json.Unmarshal([]byte(args[0]), &in); err != nil {
			return fmt.Errorf("invalid user: %w", err)
		}
		u, err := client.CreateUser(ctx, in)
		if err != nil {
			return err
		}
		printJSON(u)

	case "UPDATE":
		if len(args) < 1 {
			return errors.New("usage: userctl UPDATE <json>")
		}
		var u schema.User
		if err := json.Unmarshal([]byte(args[0]), &u); err != nil {
			return fmt.Errorf("invalid user: %w", err)
		}
		updated, err := client.UpdateUser(ctx, u)
		if err != nil {
			return err
		}
		printJSON(updated)

	case "DEL", "DELETE":
		id, err := idArg(args, "DEL <id>")
		if err != nil {
			return err
		}
		if err := client.DeleteUser(ctx, id); err != nil {
			return err
		}
		fmt.Println("OK")

	case "STATE":
		s, err := client.FetchState(ctx)
		if err != nil {
			return err
		}
		printJSON(s)

	case "CLEAR_ERROR":
		client.ClearError()
		fmt.Println("OK")

	case "PING":
		if err := client.Ping(ctx); err != nil {
			return err
		}
		fmt.Println("PONG")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
	return nil
}

func idArg(args []string, usage string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("usage: userctl %s", usage)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", args[0])
	}
	return id, nil
}

func printUsage() {
	fmt.Println("userctl - operator CLI for the shared user store")
	fmt.Println("\nUsage:")
	fmt.Println("  userctl LIST [active|inactive|<role>]")
	fmt.Println("  userctl GET <id>")
	fmt.Println("  userctl CREATE <json>")
	fmt.Println("  userctl UPDATE <json>")
	fmt.Println("  userctl DEL <id>")
	fmt.Println("  userctl STATE")
	fmt.Println("  userctl CLEAR_ERROR")
	fmt.Println("  userctl PING")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  HOST_STORE_ADDR     Address of the host store (default: localhost:$STORE_PORT)")
	fmt.Println("  STORE_DISABLE_TLS   Set to true to disable TLS")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
