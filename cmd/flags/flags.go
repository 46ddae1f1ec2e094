// Package flags holds the CLI flag definitions and setup helpers shared
// by the binaries under cmd/.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/vitalform/survey-key-escrow/common"
	"github.com/vitalform/survey-key-escrow/httpserver"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/secretstore"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// SecretStore builds the secret store selected by the store flags. AppRole
// credentials come from flags or the environment, never from the URI.
func SecretStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.SecretStore, error) {
	factory := secretstore.NewStoreFactory(
		cCtx.String(VaultRoleIDFlag.Name),
		cCtx.String(VaultSecretIDFlag.Name),
		cCtx.Duration(StoreTimeoutFlag.Name),
		logger,
	)
	return factory.StoreFor(cCtx.String(StoreURIFlag.Name))
}

var StoreURIFlag = &cli.StringFlag{
	Name:  "store-uri",
	Value: "vault://127.0.0.1:8200/survey-kms",
	Usage: "secret store location: vault://host:port/mount, file:///path, or mem://",
}
var VaultRoleIDFlag = &cli.StringFlag{
	Name:    "vault-role-id",
	EnvVars: []string{"VAULT_ROLE_ID"},
	Usage:   "AppRole role id for vault:// stores",
}
var VaultSecretIDFlag = &cli.StringFlag{
	Name:    "vault-secret-id",
	EnvVars: []string{"VAULT_SECRET_ID"},
	Usage:   "AppRole secret id for vault:// stores",
}
var StoreTimeoutFlag = &cli.DurationFlag{
	Name:  "store-timeout",
	Value: 10 * time.Second,
	Usage: "per-request timeout for secret store operations",
}

var StoreFlags = []cli.Flag{
	StoreURIFlag,
	VaultRoleIDFlag,
	VaultSecretIDFlag,
	StoreTimeoutFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
