package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/urfave/cli/v2"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/cmd/flags"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/httpserver"
	"github.com/vitalform/survey-key-escrow/interfaces"
	"github.com/vitalform/survey-key-escrow/kms"
)

var KeyadminServiceLogFlag = flags.LogServiceFlagFn("keyadmin")

var ActorFlag = &cli.StringFlag{
	Name:  "actor",
	Value: "operator",
	Usage: "operator identity recorded in the audit log",
}
var SplitterFlag = &cli.StringFlag{
	Name:  "splitter",
	Value: "shamir",
	Usage: "master key component split function: 'shamir' or 'xor'; must match across commands",
}
var CustodianFileFlag = &cli.StringFlag{
	Name:  "custodian-component-file",
	Value: "custodian-component.hex",
	Usage: "file holding the custodian's hex-encoded master key component",
}
var EscrowPubkeyFileFlag = &cli.StringFlag{
	Name:  "escrow-pubkey-file",
	Value: "escrow-public.pem",
	Usage: "file to write the published escrow public key to",
}
var DBFileFlag = &cli.StringFlag{
	Name:  "db-file",
	Value: "escrow.db",
	Usage: "SQLite database holding the audit log",
}
var OrgFlag = &cli.StringFlag{
	Name:     "org-id",
	Required: true,
	Usage:    "organization identifier",
}
var TeamFlag = &cli.StringFlag{
	Name:     "team-id",
	Required: true,
	Usage:    "team identifier",
}
var OrgCredentialFileFlag = &cli.StringFlag{
	Name:     "org-credential-file",
	Required: true,
	Usage:    "file holding the organization's hex-encoded 32-byte credential key",
}

func main() {
	commonFlags := []cli.Flag{
		ActorFlag,
		SplitterFlag,
		DBFileFlag,
		flags.LogJsonFlag,
		flags.LogDebugFlag,
		KeyadminServiceLogFlag,
	}
	commonFlags = append(commonFlags, flags.StoreFlags...)

	app := &cli.App{
		Name:           "keyadmin",
		Usage:          "Provision and manage the survey key hierarchy",
		Flags:          commonFlags,
		DefaultCommand: "status",
		Commands: []*cli.Command{
			{
				Name:        "generate",
				Usage:       "Generate and install the platform master key",
				Description: "Splits a fresh master key into a store-held and a custodian-held component, installs the store component and the escrow public key, and writes the custodian component to a local file. The assembled key is wiped before the command returns.",
				Flags: []cli.Flag{
					CustodianFileFlag,
					EscrowPubkeyFileFlag,
				},
				Action: runGenerate,
			},
			{
				Name:        "org-init",
				Usage:       "Derive an organization key and register its verifier",
				Description: "Requires the custodian component to assemble the platform master key for the derivation. The derived key is wiped; only its verifier record is stored.",
				Flags: []cli.Flag{
					CustodianFileFlag,
					OrgFlag,
					OrgCredentialFileFlag,
				},
				Action: runOrgInit,
			},
			{
				Name:        "team-init",
				Usage:       "Derive a team key and register its verifier",
				Description: "Re-derives the organization key first, so the custodian component and the organization credential are both required.",
				Flags: []cli.Flag{
					CustodianFileFlag,
					OrgFlag,
					TeamFlag,
					OrgCredentialFileFlag,
				},
				Action: runTeamInit,
			},
			{
				Name:        "verify",
				Usage:       "Check the custodian component against the published escrow key",
				Description: "Reassembles the platform master key and verifies that it still derives the escrow public key installed at generation time. No key material is persisted or printed.",
				Flags: []cli.Flag{
					CustodianFileFlag,
				},
				Action: runVerify,
			},
			{
				Name:   "status",
				Usage:  "Report secret store health",
				Action: runStatus,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runGenerate(cCtx *cli.Context) error {
	ctx := context.Background()
	logger := flags.SetupLogger(cCtx)
	actor := interfaces.ActorID(cCtx.String(ActorFlag.Name))

	splitter, err := splitterFor(cCtx.String(SplitterFlag.Name))
	if err != nil {
		return err
	}
	store, err := flags.SecretStore(cCtx, logger)
	if err != nil {
		return err
	}
	alog, closeAudit, err := openAuditLog(cCtx, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	provisioner := kms.NewProvisioner(store, splitter, alog, logger)
	custodianComponent, publicKeyPEM, err := provisioner.Provision(ctx, actor)
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(custodianComponent)

	custodianFile := cCtx.String(CustodianFileFlag.Name)
	if err := writeComponentFile(custodianFile, custodianComponent); err != nil {
		return fmt.Errorf("could not write custodian component: %w", err)
	}
	if err := os.WriteFile(cCtx.String(EscrowPubkeyFileFlag.Name), publicKeyPEM, 0600); err != nil {
		return fmt.Errorf("could not write escrow public key: %w", err)
	}

	fmt.Printf("Platform master key installed.\n")
	fmt.Printf("Custodian component written to %s; hand it to the custodian and delete the local copy.\n", custodianFile)
	fmt.Printf("Escrow public key fingerprint: %s\n", httpserver.ComputeFingerprint(publicKeyPEM))
	return nil
}

func runOrgInit(cCtx *cli.Context) error {
	ctx := context.Background()
	logger := flags.SetupLogger(cCtx)
	actor := interfaces.ActorID(cCtx.String(ActorFlag.Name))
	org := interfaces.OrgID(cCtx.String(OrgFlag.Name))

	splitter, err := splitterFor(cCtx.String(SplitterFlag.Name))
	if err != nil {
		return err
	}
	store, err := flags.SecretStore(cCtx, logger)
	if err != nil {
		return err
	}
	alog, closeAudit, err := openAuditLog(cCtx, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	custodianComponent, err := readComponentFile(cCtx.String(CustodianFileFlag.Name))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(custodianComponent)

	credentialKey, err := readCredentialFile(cCtx.String(OrgCredentialFileFlag.Name))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(credentialKey)

	engine := kms.NewDerivationEngine(store, alog, logger)
	reconstructor := kms.NewReconstructor(store, splitter, logger)
	err = reconstructor.WithPlatformKey(ctx, custodianComponent, func(platformKey []byte) error {
		orgKey, err := engine.CreateOrganization(ctx, actor, org, credentialKey, platformKey)
		if err != nil {
			return err
		}
		cryptoutils.Wipe(orgKey)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Organization %s registered.\n", org)
	return nil
}

func runTeamInit(cCtx *cli.Context) error {
	ctx := context.Background()
	logger := flags.SetupLogger(cCtx)
	actor := interfaces.ActorID(cCtx.String(ActorFlag.Name))
	org := interfaces.OrgID(cCtx.String(OrgFlag.Name))
	team := interfaces.TeamID(cCtx.String(TeamFlag.Name))

	splitter, err := splitterFor(cCtx.String(SplitterFlag.Name))
	if err != nil {
		return err
	}
	store, err := flags.SecretStore(cCtx, logger)
	if err != nil {
		return err
	}
	alog, closeAudit, err := openAuditLog(cCtx, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	custodianComponent, err := readComponentFile(cCtx.String(CustodianFileFlag.Name))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(custodianComponent)

	credentialKey, err := readCredentialFile(cCtx.String(OrgCredentialFileFlag.Name))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(credentialKey)

	engine := kms.NewDerivationEngine(store, alog, logger)
	reconstructor := kms.NewReconstructor(store, splitter, logger)
	err = reconstructor.WithPlatformKey(ctx, custodianComponent, func(platformKey []byte) error {
		orgKey, err := engine.OrganizationKey(ctx, actor, org, credentialKey, platformKey)
		if err != nil {
			return err
		}
		defer cryptoutils.Wipe(orgKey)

		teamKey, err := engine.CreateTeam(ctx, actor, team, orgKey)
		if err != nil {
			return err
		}
		cryptoutils.Wipe(teamKey)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("Team %s registered under organization %s.\n", team, org)
	return nil
}

func runVerify(cCtx *cli.Context) error {
	ctx := context.Background()
	logger := flags.SetupLogger(cCtx)

	splitter, err := splitterFor(cCtx.String(SplitterFlag.Name))
	if err != nil {
		return err
	}
	store, err := flags.SecretStore(cCtx, logger)
	if err != nil {
		return err
	}
	alog, closeAudit, err := openAuditLog(cCtx, logger)
	if err != nil {
		return err
	}
	defer closeAudit()

	custodianComponent, err := readComponentFile(cCtx.String(CustodianFileFlag.Name))
	if err != nil {
		return err
	}
	defer cryptoutils.Wipe(custodianComponent)

	provisioner := kms.NewProvisioner(store, splitter, alog, logger)
	if err := provisioner.VerifyCustodian(ctx, custodianComponent); err != nil {
		return err
	}

	fmt.Println("Custodian component verified against the published escrow key.")
	return nil
}

func runStatus(cCtx *cli.Context) error {
	ctx := context.Background()
	logger := flags.SetupLogger(cCtx)

	store, err := flags.SecretStore(cCtx, logger)
	if err != nil {
		return err
	}
	if err := store.Authenticate(ctx); err != nil {
		return err
	}

	health, err := store.Health(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("initialized=%t sealed=%t\n", health.Initialized, health.Sealed)
	return nil
}

func splitterFor(name string) (kms.SecretSplitter, error) {
	switch name {
	case "shamir":
		return kms.ShamirSplitter{}, nil
	case "xor":
		return kms.XORSplitter{}, nil
	default:
		return nil, fmt.Errorf("unknown splitter: %s", name)
	}
}

func openAuditLog(cCtx *cli.Context, logger *slog.Logger) (interfaces.AuditLog, func() error, error) {
	db, err := sql.Open("sqlite3", cCtx.String(DBFileFlag.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("could not open database: %w", err)
	}
	store, err := audit.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("could not create audit store: %w", err)
	}
	return audit.NewLogger(store, logger), db.Close, nil
}

func writeComponentFile(path string, component []byte) error {
	return os.WriteFile(path, []byte(hex.EncodeToString(component)+"\n"), 0600)
}

func readComponentFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read component file: %w", err)
	}
	component, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid component encoding in %s: %w", path, err)
	}
	return component, nil
}

func readCredentialFile(path string) ([]byte, error) {
	key, err := readComponentFile(path)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		cryptoutils.Wipe(key)
		return nil, fmt.Errorf("credential key in %s must be 32 bytes, got %d", path, len(key))
	}
	return key, nil
}
