package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/walletbridge/remote-signer-go/pkg/config"
	"github.com/walletbridge/remote-signer-go/pkg/initiator"
	"github.com/walletbridge/remote-signer-go/pkg/logger"
	"github.com/walletbridge/remote-signer-go/pkg/session"
	"github.com/walletbridge/remote-signer-go/pkg/transport/redisTransport"
)

func main() {
	app := &cli.App{
		Name:  "bridge-initiator",
		Usage: "Desktop side of the remote wallet signing bridge",
		Description: `Creates a signing session, waits for a mobile wallet to pair and
authenticate, then relays message signing requests to it over the shared
pub/sub channel.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
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
			&cli.StringFlag{
				Name:    "wallet-type",
				Aliases: []string{"w"},
				Usage:   "Wallet type on the mobile side: eoa or scw",
				Value:   config.WalletTypeEOA.String(),
				EnvVars: []string{config.EnvBridgeWalletType},
			},
			&cli.StringFlag{
				Name:    "message",
				Aliases: []string{"m"},
				Usage:   "Message to sign once the session is authenticated",
				Value:   "hello from the signing bridge",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvBridgeVerbose},
			},
		},
		Action: runInitiator,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runInitiator(c *cli.Context) error {
	walletType, err := config.ParseWalletType(c.String("wallet-type"))
	if err != nil {
		return err
	}

	cfg := &config.InitiatorConfig{
		WalletType: walletType,
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

	transport, err := redisTransport.NewRedisTransport(&cfg.Redis, l)
	if err != nil {
		return errors.Wrap(err, "failed to create transport")
	}
	defer func() { _ = transport.Close() }()

	sessionID, err := session.GenerateSessionID()
	if err != nil {
		return errors.Wrap(err, "failed to generate session id")
	}

	init, err := initiator.NewInitiator(&initiator.Config{
		SessionID:  sessionID,
		WalletType: cfg.WalletType,
		Timeouts:   config.DefaultTimeouts(),
		Logger:     l,
	}, transport)
	if err != nil {
		return errors.Wrap(err, "failed to create initiator")
	}
	defer init.Cleanup()

	fmt.Printf("Session id: %s\n", sessionID)
	fmt.Printf("Channel:    %s\n", session.ChannelName(sessionID))
	fmt.Println("Waiting for the mobile wallet to pair...")

	ctx := context.Background()
	address, err := init.Connect(ctx)
	if err != nil {
		return errors.Wrap(err, "pairing failed")
	}
	fmt.Printf("Paired with wallet %s\n", address.Hex())

	message := c.String("message")
	signature, err := init.RequestSignature(ctx, message)
	if err != nil {
		return errors.Wrapf(err, "failed to sign %q", message)
	}
	fmt.Printf("Signature for %q:\n%s\n", message, signature)

	if err := init.Complete(ctx); err != nil {
		l.Sugar().Warnw("Failed to send session-complete", "error", err.Error())
	}
	return nil
}
