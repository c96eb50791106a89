package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tradebridge/internal/live"
	"tradebridge/pkg/bridge"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: bridge-cli [-addr URL] [-grpc HOST:PORT] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  health               Show broker session state\n")
	fmt.Fprintf(os.Stderr, "  open                 List orders working at the broker\n")
	fmt.Fprintf(os.Stderr, "  completed            List completed orders\n")
	fmt.Fprintf(os.Stderr, "  order <id>           Show a journaled order\n")
	fmt.Fprintf(os.Stderr, "  executions [symbol]  List broker executions\n")
	fmt.Fprintf(os.Stderr, "  positions            List broker positions\n")
	fmt.Fprintf(os.Stderr, "  cancel <id>          Cancel one order\n")
	fmt.Fprintf(os.Stderr, "  cancel-all           Cancel every open order\n")
	fmt.Fprintf(os.Stderr, "  flatten              Close every position at market\n")
	fmt.Fprintf(os.Stderr, "  reconcile            Run a reconciliation pass\n")
	fmt.Fprintf(os.Stderr, "  notifications        Show recent notifications\n")
	fmt.Fprintf(os.Stderr, "  stream [topics...]   Follow real-time events\n")
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	addr := flag.String("addr", envOr("BRIDGE_ADDR", "http://localhost:8080"), "bridge REST base URL")
	grpcAddr := flag.String("grpc", envOr("BRIDGE_GRPC_ADDR", "localhost:9090"), "bridge gRPC stream address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := bridge.NewClient(*addr)
	if err := runCommand(ctx, c, *grpcAddr, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, c *bridge.Client, grpcAddr, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Printf("bridge-cli %s\n", version)
		return nil

	case "health":
		return printResult(c.Health(ctx))

	case "open":
		return printResult(c.OpenOrders(ctx))

	case "completed":
		return printResult(c.CompletedOrders(ctx))

	case "order":
		id, err := orderIDArg(args)
		if err != nil {
			return err
		}
		return printResult(c.Order(ctx, id))

	case "executions":
		symbol := ""
		if len(args) > 0 {
			symbol = strings.ToUpper(args[0])
		}
		return printResult(c.Executions(ctx, symbol, ""))

	case "positions":
		return printResult(c.Positions(ctx))

	case "cancel":
		id, err := orderIDArg(args)
		if err != nil {
			return err
		}
		return printResult(c.CancelOrder(ctx, id))

	case "cancel-all":
		if err := c.CancelAllOrders(ctx); err != nil {
			return err
		}
		fmt.Println("global cancel requested")
		return nil

	case "flatten":
		return printResult(c.Flatten(ctx))

	case "reconcile":
		return printResult(c.Reconcile(ctx))

	case "notifications":
		return printResult(c.Notifications(ctx, 20))

	case "stream":
		return stream(ctx, grpcAddr, args)

	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func stream(ctx context.Context, addr string, topics []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	sc := live.NewStreamClient(addr, topics, logger)
	enc := json.NewEncoder(os.Stdout)

	// Reconnect with resume until interrupted.
	for {
		err := sc.Sync(ctx, func(m live.Message) {
			_ = enc.Encode(m)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "stream interrupted: %v (last seq %d), retrying\n", err, sc.LastSeq())
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil
		}
	}
}

func orderIDArg(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("order id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id %q", args[0])
	}
	return id, nil
}

func printResult[T any](v T, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
