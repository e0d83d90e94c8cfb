package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/urfave/cli/v2"

	"github.com/isqad/livelook-collab/internal/config"
	"github.com/isqad/livelook-collab/internal/relay"
	"github.com/isqad/livelook-collab/internal/repository"
	"github.com/isqad/livelook-collab/internal/ws"
)

func main() {
	app := &cli.App{
		Name:        "livelook-signal",
		Usage:       "Signaling server for collaborative sessions",
		Description: "",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the config file (yaml, toml or json)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':8080' for listen on 0.0.0.0:8080",
			},
			&cli.StringFlag{
				Name:  "relay",
				Usage: "signal relay between nodes: 'local', 'redis' or 'nats'",
			},
		},
		Action: startSignal,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startSignal(c *cli.Context) error {
	v, err := config.NewViper(c.String("config"))
	if err != nil {
		return err
	}
	for flag, key := range map[string]string{"env": "env", "address": "server.address", "relay": "server.relay"} {
		if c.IsSet(flag) {
			v.Set(key, c.String(flag))
		}
	}

	conf, err := config.NewServerConfig(v)
	if err != nil {
		return err
	}

	r, err := relay.New(conf.Relay, conf.RedisAddr, conf.NatsURL)
	if err != nil {
		return err
	}

	var sessions repository.SessionsRepository = repository.NewMemory()
	if conf.PostgresDSN != "" {
		db, err := repository.Connect(conf.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()

		sessions = repository.NewPostgres(db)
	}

	wsApp := ws.New(ws.AppOptions{
		Env:            conf.Env,
		Address:        conf.Address,
		MaxMessageSize: conf.MaxMessageSize,
		Relay:          r,
		Sessions:       sessions,
	})

	return wsApp.Start()
}
