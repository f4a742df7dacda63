// cmd/token-check/main.go
//
// token-check 是调用 promo-token-service 的命令行工具：
//
//	token-check [--server URL] validate TOKEN
//	token-check [--server URL] --user U --pass P verify TOKEN
//	token-check [--server URL] --user U --pass P redeem TOKEN [--result JSON]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"promotoken/internal/pkg/httpclient"
)

var commandPaths = map[string]string{
	"validate": "/api/tokens/validate",
	"verify":   "/api/tokens/verify",
	"redeem":   "/api/tokens/mark-used",
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var (
		server, user, pass, result string
		timeout                    time.Duration
	)
	flagSet := pflag.NewFlagSet("token-check", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", envOr("PROMO_SERVER", "http://localhost:8080"), "base URL of promo-token-service")
	flagSet.StringVar(&user, "user", os.Getenv("ADMIN_USER"), "admin user for verify and redeem")
	flagSet.StringVar(&pass, "pass", os.Getenv("ADMIN_PASS"), "admin password for verify and redeem")
	flagSet.StringVar(&result, "result", `{"success":true}`, "redemption result JSON sent with redeem")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: token-check [flags] validate|verify|redeem TOKEN")
	}
	cmd, token := rest[0], rest[1]
	path, ok := commandPaths[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q", cmd)
	}

	body := map[string]any{"token": token}
	if cmd == "redeem" {
		if !json.Valid([]byte(result)) {
			return fmt.Errorf("--result is not valid JSON")
		}
		body["result"] = json.RawMessage(result)
	}

	client := httpclient.NewClient(otel.Tracer("token-check"))
	client.User, client.Pass = user, pass

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out json.RawMessage
	err := client.PostJSON(ctx, strings.TrimRight(server, "/")+path, body, &out)
	if len(out) > 0 {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
