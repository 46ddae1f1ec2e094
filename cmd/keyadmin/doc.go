// Package main (cmd/keyadmin) implements the operator tool for the survey
// key hierarchy.
//
// keyadmin performs the privileged key ceremonies that the service daemon
// deliberately cannot: installing the platform master key and registering
// organization and team key verifiers. Every command that touches key
// material appends to the same audit log the daemon uses.
//
// Commands:
//
//	generate   - Generate the platform master key, split it, install the
//	             store component and escrow public key, and write the
//	             custodian component to a local file
//	org-init   - Derive an organization key and store its verifier record
//	team-init  - Derive a team key and store its verifier record
//	verify     - Check a custodian component against the published escrow
//	             public key without persisting anything
//	status     - Report secret store health (initialized/sealed)
//
// The master key never exists outside the duration of a single command; it
// is assembled from the store component and the custodian component, used,
// and wiped. Organization and team keys are derived on demand and only
// their non-secret verifier records are stored.
//
// Example ceremony:
//
//	keyadmin generate --store-uri=vault://vault.internal:8200/survey-kms \
//	    --custodian-component-file=./custodian.hex
//	keyadmin org-init --org-id=org-acme \
//	    --org-credential-file=./org-acme-credential.hex \
//	    --custodian-component-file=./custodian.hex
//	keyadmin team-init --org-id=org-acme --team-id=team-clinical \
//	    --org-credential-file=./org-acme-credential.hex \
//	    --custodian-component-file=./custodian.hex
//	keyadmin verify --custodian-component-file=./custodian.hex
//
// After the ceremony the custodian component file must be handed to the
// custodian and removed from the operator's machine.
package main
