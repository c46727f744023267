// Command kycctl is a terminal client for kyc-service: it stages and submits
// documents, shows the verification status and keeps the user's presence
// fresh while watching for changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"kyc-service/cmd/kycctl/ui"
	"kyc-service/internal/apiclient"
	"kyc-service/internal/util"
)

const usage = `usage: kycctl [-server URL] [-token TOKEN] <command> [flags]

commands:
  submit   stage documents and submit a verification
  status   show the current verification status
  watch    follow status changes and keep presence online
`

type app struct {
	client  kycAPI
	out     io.Writer
	signals <-chan os.Signal
	logger  *zap.Logger
}

func main() {
	global := flag.NewFlagSet("kycctl", flag.ExitOnError)
	server := global.String("server", envOr("KYC_API_URL", "http://localhost:8080"), "kyc-service base URL")
	token := global.String("token", os.Getenv("KYC_API_TOKEN"), "bearer token issued for the user")
	verbose := global.Bool("v", false, "debug logging")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := util.Init("development", level, "console")
	defer util.Sync()

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	a := &app{
		client:  apiclient.New(*server, logger.Named("api"), apiclient.WithToken(*token)),
		out:     os.Stdout,
		signals: signals,
		logger:  logger,
	}

	var err error
	ctx := context.Background()
	switch args[0] {
	case "submit":
		err = a.submit(ctx, args[1:])
	case "status":
		err = a.status(ctx, args[1:])
	case "watch":
		err = a.watch(ctx, args[1:])
	default:
		global.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, ui.Error(err))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
