package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vitalform/survey-key-escrow/api/recoveryhandler"
	"github.com/vitalform/survey-key-escrow/cmd/flags"
	"github.com/vitalform/survey-key-escrow/common"
	"github.com/vitalform/survey-key-escrow/httpserver"
	"github.com/vitalform/survey-key-escrow/metrics"
	"github.com/vitalform/survey-key-escrow/workflow"
)

var EscrowServiceLogFlag = flags.LogServiceFlagFn("escrowd")

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for the recovery API",
}
var AdminKeysFileFlag = &cli.StringFlag{
	Name:     "admin-keys-file",
	Required: true,
	Usage:    "JSON file with recovery administrator public keys",
}
var DBFileFlag = &cli.StringFlag{
	Name:  "db-file",
	Value: "escrow.db",
	Usage: "SQLite database for escrow records, recovery requests, and the audit log",
}
var ApprovalDelayFlag = &cli.DurationFlag{
	Name:  "approval-delay",
	Value: workflow.DefaultApprovalDelay,
	Usage: "mandatory delay between the second approval and executability",
}
var RequestTTLFlag = &cli.DurationFlag{
	Name:  "request-ttl",
	Value: workflow.DefaultRequestTTL,
	Usage: "lifetime of a recovery request before it expires",
}
var SweepIntervalFlag = &cli.DurationFlag{
	Name:  "sweep-interval",
	Value: time.Minute,
	Usage: "interval between recovery request sweeps",
}
var ReleaseEscrowOnExpiryFlag = &cli.BoolFlag{
	Name:  "release-escrow-on-expiry",
	Value: false,
	Usage: "accept new recovery requests for an escrow whose previous request expired",
}

func main() {
	appFlags := []cli.Flag{
		ListenAddrFlag,
		AdminKeysFileFlag,
		DBFileFlag,
		ApprovalDelayFlag,
		RequestTTLFlag,
		SweepIntervalFlag,
		ReleaseEscrowOnExpiryFlag,
		EscrowServiceLogFlag,
	}
	appFlags = append(appFlags, flags.StoreFlags...)
	appFlags = append(appFlags, NotifyFlags...)
	appFlags = append(appFlags, ArchiveFlags...)
	appFlags = append(appFlags, flags.CommonFlags...)

	app := &cli.App{
		Name:  "escrowd",
		Usage: "Serve the survey KEK escrow and recovery API",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(ListenAddrFlag.Name)

			logger := flags.SetupLogger(cCtx)
			m := metrics.New(common.PackageName, common.Version)

			service, err := SetupService(cCtx, logger, m)
			if err != nil {
				logger.Error("Failed to initialize service", "err", err)
				return err
			}
			defer service.Close()

			auth := httpserver.NewAdminAuth(logger, service.AdminKeys)
			handler := recoveryhandler.NewHandler(service.Engine, auth, logger)

			srv := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), m, handler)

			background, stopBackground := context.WithCancel(context.Background())
			defer stopBackground()

			go service.Sweeper.Run(background)
			if service.Archiver != nil {
				go service.Archiver.Run(background, cCtx.Duration(ArchiveIntervalFlag.Name))
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			stopBackground()
			srv.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
