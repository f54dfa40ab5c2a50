package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cupogo/andvari/utils/zlog"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/liut/inkwell/htdocs"
	"github.com/liut/inkwell/pkg/settings"
	"github.com/liut/inkwell/pkg/web"
)

func main() {
	app := &cli.App{
		Name:    "inkwell",
		Usage:   "assistant chat for the blog",
		Version: settings.Current.Version,
		Before: func(*cli.Context) error {
			setupLogger()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "web",
				Usage:  "run the chat api server",
				Action: runWeb,
			},
			{
				Name:  "chat",
				Usage: "chat in the terminal against a running server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api", Value: settings.Current.APIBase, Usage: "api base url"},
					&cli.StringFlag{Name: "token", EnvVars: []string{"INKWELL_TOKEN"}, Usage: "session cookie value"},
					&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Usage: "conversation id to open"},
				},
				Action: runChat,
			},
			{
				Name:  "usage",
				Usage: "show environment settings",
				Action: func(*cli.Context) error {
					return settings.Usage()
				},
			},
		},
		DefaultCommand: "web",
	}

	if err := app.Run(os.Args); err != nil {
		zap.S().Fatalw("run fail", "err", err)
	}
}

func setupLogger() {
	var zlogger *zap.Logger
	if settings.InDevelop() {
		zlogger, _ = zap.NewDevelopment()
	} else {
		zlogger, _ = zap.NewProduction()
	}
	zap.ReplaceGlobals(zlogger)
	zlog.Set(zlogger.Sugar())
}

func runWeb(*cli.Context) error {
	sugar := zap.S()
	srv := web.New(web.Config{
		Addr:       settings.Current.HTTPListen,
		Debug:      settings.InDevelop(),
		SendRate:   settings.Current.SendRate,
		DocHandler: http.FileServer(http.FS(htdocs.FS())),
	})

	idleClosed := make(chan struct{})
	ctx := context.Background()
	go func() {
		quit := make(chan os.Signal, 2)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		sugar.Info("shutting down server...")
		if err := srv.Stop(ctx); err != nil {
			sugar.Infow("server shutdown:", "err", err)
		}
		close(idleClosed)
	}()

	if err := srv.Serve(ctx); err != nil {
		sugar.Infow("serve fail", "err", err)
		return err
	}

	<-idleClosed
	return nil
}
