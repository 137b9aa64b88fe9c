// Command song-roulette runs the Song Roulette web application.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/justestif/song-roulette/internal/auth"
	"github.com/justestif/song-roulette/internal/catalog"
	"github.com/justestif/song-roulette/internal/config"
	"github.com/justestif/song-roulette/internal/logging"
	"github.com/justestif/song-roulette/internal/realtime"
	"github.com/justestif/song-roulette/internal/room"
	"github.com/justestif/song-roulette/internal/spotify"
	"github.com/justestif/song-roulette/internal/web"
	webfs "github.com/justestif/song-roulette/web"
)

func main() {
	app := &cli.Command{
		Name:  "song-roulette",
		Usage: "Roll random songs from the playlists you and a friend share",
		Flags: serveFlags(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the web server",
				Flags:  serveFlags(),
				Action: serve,
			},
		},
		Action: serve,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file (default config/config.$CONFIG_ENV.yaml)",
		},
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Listen address, overrides server.addr",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level, overrides log.level",
		},
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	authenticator, err := auth.New(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret, cfg.RedirectURL())
	if err != nil {
		return err
	}

	templates, err := fs.Sub(webfs.TemplatesFS, "templates")
	if err != nil {
		return fmt.Errorf("creating templates filesystem: %w", err)
	}
	static, err := fs.Sub(webfs.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("creating static filesystem: %w", err)
	}

	store := catalog.NewStore()
	status := catalog.NewStatusTracker()
	loader := catalog.NewLoader(store, status,
		catalog.WithContext(ctx),
		catalog.WithRateLimit(cfg.Catalog.RequestsPerSecond),
		catalog.WithMaxRetries(cfg.Catalog.MaxRetries),
		catalog.WithRequirePreview(cfg.Catalog.RequirePreview),
	)

	rnd := room.NewRand(cfg.Room.Seed)
	hub := realtime.NewHub()
	rooms := room.NewRegistry(store,
		room.WithTTL(cfg.Room.TTL),
		room.WithCodeAttempts(cfg.Room.CodeAttempts),
		room.WithRand(rnd),
		room.WithNotifier(hub),
	)
	controller := realtime.NewController(rooms, hub, realtime.Config{
		PingPeriod: cfg.Realtime.PingPeriod,
		ReadLimit:  cfg.Realtime.ReadLimit,
		SendBuffer: cfg.Realtime.SendBuffer,
	})

	// Clients outlive the callback request, so token refreshes use the serve context.
	newClient := func(token *oauth2.Token) web.SpotifyClient {
		return spotify.NewFromHTTP(authenticator.Client(ctx, token))
	}

	server, err := web.NewServer(web.ServerConfig{
		Addr:        cfg.Server.Addr,
		SessionTTL:  cfg.Session.TTL,
		TemplatesFS: templates,
		StaticFS:    static,
		Deps: web.Deps{
			Auth:      authenticator,
			NewClient: newClient,
			Loader:    loader,
			Catalogs:  store,
			Status:    status,
			Rooms:     rooms,
			Realtime:  controller,
			Rand:      rnd,
		},
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	log.Info().Str("module", "main").Str("redirect_url", cfg.RedirectURL()).Msg("song roulette starting")
	err = server.Run(ctx)
	loader.Wait()
	return err
}
