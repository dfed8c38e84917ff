package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/logger"
	"github.com/walletbridge/remote-signer-go/pkg/responder"
	"github.com/walletbridge/remote-signer-go/pkg/transport/redisTransport"
	"github.com/walletbridge/remote-signer-go/pkg/walletSigner/inMemoryWalletSigner"
)

func main() {
	app := &cli.App{
		Name:  "bridge-responder",
		Usage: "Mobile/wallet side of the remote wallet signing bridge",
		Description: `Joins an existing signing session, announces the wallet address,
answers the authentication challenge, and then signs messages relayed by the
desktop until the session completes.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "session-id",
				Aliases:  []string{"s"},
				Usage:    "Session id displayed by the initiator (32 hex characters)",
				EnvVars:  []string{config.EnvBridgeSessionID},
				Required: true,
			},
			&cli.StringFlag{
				Name:     "private-key",
				Aliases:  []string{"k"},
				Usage:    "Hex-encoded secp256k1 private key for the in-memory wallet signer",
				EnvVars:  []string{config.EnvBridgePrivateKey},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "wallet-type",
				Aliases: []string{"w"},
				Usage:   "Wallet type: eoa or scw",
				Value:   config.WalletTypeEOA.String(),
				EnvVars: []string{config.EnvBridgeWalletType},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Aliases: []string{"r"},
				Usage:   "Redis server address (host:port) used as the pub/sub transport",
				Value:   "localhost:6379",
				EnvVars: []string{config.EnvBridgeRedisAddress},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Optional Redis password",
				EnvVars: []string{config.EnvBridgeRedisPassword},
			},
			&cli.IntFlag{
				Name:    "redis-db",
				Usage:   "Redis database number (0-15)",
				EnvVars: []string{config.EnvBridgeRedisDB},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvBridgeVerbose},
			},
		},
		Action: runResponder,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runResponder(c *cli.Context) error {
	walletType, err := config.ParseWalletType(c.String("wallet-type"))
	if err != nil {
		return err
	}

	cfg := &config.ResponderConfig{
		SessionID:  c.String("session-id"),
		WalletType: walletType,
		PrivateKey: c.String("private-key"),
		Redis: config.RedisConfig{
			Address:  c.String("redis-address"),
			Password: c.String("redis-password"),
			DB:       c.Int("redis-db"),
		},
		Verbose: c.Bool("verbose"),
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Verbose})
	if err != nil {
		return errors.Wrap(err, "failed to create logger")
	}
	defer func() { _ = l.Sync() }()

	wallet, err := inMemoryWalletSigner.NewInMemoryWalletSignerFromHex(cfg.PrivateKey, l)
	if err != nil {
		return errors.Wrap(err, "failed to load wallet key")
	}

	transport, err := redisTransport.NewRedisTransport(&cfg.Redis, l)
	if err != nil {
		return errors.Wrap(err, "failed to create transport")
	}
	defer func() { _ = transport.Close() }()

	done := make(chan struct{})
	resp, err := responder.NewResponder(&responder.Config{
		SessionID: cfg.SessionID,
		Logger:    l,
		Callbacks: responder.Callbacks{
			OnAuthenticated: func() {
				fmt.Println("Authenticated; serving signing requests.")
			},
			OnAuthFailed: func(err error) {
				fmt.Printf("Authentication rejected: %v\n", err)
			},
			OnError: func(err error) {
				l.Sugar().Errorw("Session error", "error", err.Error())
			},
			OnComplete: func() {
				close(done)
			},
		},
	}, transport, wallet)
	if err != nil {
		return errors.Wrap(err, "failed to create responder")
	}
	defer resp.Cleanup()

	ctx := context.Background()
	if err := resp.Connect(ctx); err != nil {
		return errors.Wrap(err, "failed to join session")
	}
	fmt.Printf("Joined session %s as %s\n", cfg.SessionID, wallet.Address().Hex())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-done:
		fmt.Println("Session completed by initiator.")
	case s := <-sigCh:
		fmt.Printf("Received %s, leaving session.\n", s)
	}
	return nil
}
