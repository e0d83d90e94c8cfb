package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-collab/internal/collab"
	"github.com/isqad/livelook-collab/internal/config"
	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/eventbus"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

func main() {
	app := &cli.App{
		Name:        "livelook-collab",
		Usage:       "Headless collaborator: joins a session, logs its events and applies edits",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the config file (yaml, toml or json)",
			},
			&cli.StringFlag{
				Name:  "control-url",
				Usage: "websocket url of the signaling server",
			},
			&cli.StringFlag{
				Name:     "session",
				Usage:    "session id to join",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "user-id",
				Usage: "user id, random uuid when empty",
			},
			&cli.StringFlag{
				Name:  "user-name",
				Usage: "display name",
			},
			&cli.StringFlag{
				Name:  "theme",
				Usage: "theme to set once connected",
			},
			&cli.StringSliceFlag{
				Name:  "color",
				Usage: "color to set once connected, example: 'primary=#ff0000'",
			},
			&cli.DurationFlag{
				Name:  "connect-timeout",
				Value: 10 * time.Second,
				Usage: "how long to wait for session info",
			},
		},
		Action: startCollab,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startCollab(c *cli.Context) error {
	v, err := config.NewViper(c.String("config"))
	if err != nil {
		return err
	}
	for flag, key := range map[string]string{"control-url": "control_url", "user-id": "user.id", "user-name": "user.name"} {
		if c.IsSet(flag) {
			v.Set(key, c.String(flag))
		}
	}

	conf, err := config.NewConfig(v)
	if err != nil {
		return err
	}
	telemetry.InitLogger(conf.Env)

	var opts []collab.Option
	if conf.EventsRedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: conf.EventsRedisAddr})
		defer rdb.Close()

		opts = append(opts, collab.WithEventMirror(rdb))
	}

	client, err := collab.New(conf, opts...)
	if err != nil {
		return err
	}

	client.OnAny(func(msg eventbus.Message) {
		log.Info().Str("service", "collab").Str("event", string(msg.Name)).Interface("payload", msg.Payload).Msg("event")
	})

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("connect-timeout"))
	err = client.Connect(ctx, c.String("session"))
	cancel()
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if err := applyEdits(client, c.String("theme"), c.StringSlice("color")); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	stats := client.GetStats()
	log.Info().Str("service", "collab").Int64("version", stats.Version).Uint64("conflicts", stats.Conflicts).Msg("leaving the session")

	return nil
}

func applyEdits(client *collab.Client, theme string, colors []string) error {
	if theme != "" {
		if err := client.UpdateState(core.StatePatch{Theme: &theme}); err != nil {
			return err
		}
	}

	for _, raw := range colors {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return fmt.Errorf("invalid color %q, expected name=value", raw)
		}
		if err := client.SetColor(name, value); err != nil {
			return err
		}
	}

	return nil
}
