package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/vitalform/survey-key-escrow/api/recoveryhandler"
	"github.com/vitalform/survey-key-escrow/cryptoutils"
	"github.com/vitalform/survey-key-escrow/httpserver"
)

var ServerAddrFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "recovery API address",
}
var AdminIDFlag = &cli.StringFlag{
	Name:  "admin-id",
	Usage: "administrator identity for signed calls",
}
var AdminPrivkeyFlag = &cli.StringFlag{
	Name:  "admin-privkey-file",
	Value: "admin-private.pem",
	Usage: "path to the administrator's private key",
}
var AdminPubkeyFlag = &cli.StringFlag{
	Name:  "admin-pubkey-file",
	Value: "admin-public.pem",
	Usage: "path to write the administrator's public key to",
}
var RequestIDFlag = &cli.StringFlag{
	Name:     "request-id",
	Required: true,
	Usage:    "recovery request identifier",
}
var UserFlag = &cli.StringFlag{
	Name:     "user-id",
	Required: true,
	Usage:    "user whose KEK escrow is addressed",
}
var SurveyFlag = &cli.StringFlag{
	Name:     "survey-id",
	Required: true,
	Usage:    "survey whose KEK escrow is addressed",
}
var RequestedByFlag = &cli.StringFlag{
	Name:     "requested-by",
	Required: true,
	Usage:    "actor submitting the request, recorded in the audit log",
}
var CancelTokenFlag = &cli.StringFlag{
	Name:     "cancel-token",
	Required: true,
	Usage:    "single-use token returned at submission",
}
var CancelledByFlag = &cli.StringFlag{
	Name:  "cancelled-by",
	Usage: "actor cancelling the request, recorded in the audit log",
}
var ComponentFileFlag = &cli.StringFlag{
	Name:     "custodian-component-file",
	Required: true,
	Usage:    "file holding the custodian's hex-encoded master key component",
}

func main() {
	app := &cli.App{
		Name:  "recoveryctl",
		Usage: "Drive the KEK recovery workflow over the HTTP API",
		Flags: []cli.Flag{
			ServerAddrFlag,
			AdminIDFlag,
			AdminPrivkeyFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit a recovery request",
				Flags: []cli.Flag{
					UserFlag,
					SurveyFlag,
					RequestedByFlag,
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.Submit(
						cCtx.String(UserFlag.Name),
						cCtx.String(SurveyFlag.Name),
						cCtx.String(RequestedByFlag.Name),
					)
					if err != nil {
						return err
					}
					fmt.Fprintln(os.Stderr, "Store the cancel token securely; it is not shown again.")
					return printJSON(resp)
				},
			},
			{
				Name:  "approve",
				Usage: "Approve a recovery request (admin-signed)",
				Flags: []cli.Flag{
					RequestIDFlag,
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.Approve(cCtx.String(RequestIDFlag.Name))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "cancel",
				Usage: "Cancel a recovery request with its token",
				Flags: []cli.Flag{
					RequestIDFlag,
					CancelTokenFlag,
					CancelledByFlag,
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.Cancel(
						cCtx.String(RequestIDFlag.Name),
						cCtx.String(CancelTokenFlag.Name),
						cCtx.String(CancelledByFlag.Name),
					)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:        "execute",
				Usage:       "Execute an approved request (admin-signed, custodian present)",
				Description: "The response is printed to stdout and contains the recovered KEK. Run this only where the output can be handled as key material.",
				Flags: []cli.Flag{
					RequestIDFlag,
					ComponentFileFlag,
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					component, err := readComponentFile(cCtx.String(ComponentFileFlag.Name))
					if err != nil {
						return err
					}
					defer cryptoutils.Wipe(component)

					resp, err := client.Execute(cCtx.String(RequestIDFlag.Name), component)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "status",
				Usage: "Show the requester's view of a request",
				Flags: []cli.Flag{
					RequestIDFlag,
					UserFlag,
				},
				Action: func(cCtx *cli.Context) error {
					client, err := newClient(cCtx)
					if err != nil {
						return err
					}
					resp, err := client.Status(
						cCtx.String(RequestIDFlag.Name),
						cCtx.String(UserFlag.Name),
					)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "keygen",
				Usage: "Generate an administrator key pair",
				Flags: []cli.Flag{
					AdminPubkeyFlag,
				},
				Action: func(cCtx *cli.Context) error {
					privateKeyPEM, publicKeyPEM, err := httpserver.GenerateAdminKeyPair()
					if err != nil {
						return err
					}

					privkeyFile := cCtx.String(AdminPrivkeyFlag.Name)
					if err := os.WriteFile(privkeyFile, []byte(privateKeyPEM), 0600); err != nil {
						return err
					}
					pubkeyFile := cCtx.String(AdminPubkeyFlag.Name)
					if err := os.WriteFile(pubkeyFile, []byte(publicKeyPEM), 0600); err != nil {
						return err
					}

					fmt.Printf("Key pair written to %s and %s.\n", privkeyFile, pubkeyFile)
					fmt.Printf("Public key fingerprint: %s\n", httpserver.ComputeFingerprint([]byte(publicKeyPEM)))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newClient(cCtx *cli.Context) (*recoveryhandler.Client, error) {
	client := &recoveryhandler.Client{BaseURL: cCtx.String(ServerAddrFlag.Name)}

	adminID := cCtx.String(AdminIDFlag.Name)
	if adminID == "" {
		return client, nil
	}

	privateKeyPEM, err := os.ReadFile(cCtx.String(AdminPrivkeyFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("could not read admin private key: %w", err)
	}
	privateKey, err := httpserver.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}

	client.AdminID = adminID
	client.PrivateKey = privateKey
	return client, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
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
