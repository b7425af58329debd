package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dtroode/staffsync/internal/api/grpc/client"
	"github.com/dtroode/staffsync/internal/cli"
	"github.com/dtroode/staffsync/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.NewClientConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	fs := flag.NewFlagSet("dirctl", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "directory server address")
	fs.BoolVar(&cfg.TLS, "tls", cfg.TLS, "connect with TLS")
	fs.StringVar(&cfg.CAFile, "ca", cfg.CAFile, "CA certificate for TLS")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "timeout of one-shot commands")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	c, err := client.New(client.Options{Addr: cfg.Addr, TLS: cfg.TLS, CAFile: cfg.CAFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := fs.Args()
	if len(args) == 0 || args[0] != "watch" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if err := cli.NewApp(c, os.Stdout).Run(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "dirctl:", err)
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}
