// Package main (cmd/recoveryctl) implements the client for the recovery
// workflow exposed by escrowd. It submits and tracks recovery requests,
// signs approve and execute calls with an administrator key, and generates
// the key pairs those calls require.
//
// Commands:
//
//   - submit: open a recovery request for a user's survey KEK
//   - approve: co-sign a pending request as an administrator
//   - cancel: abort a request with the token returned at submission
//   - execute: recover the KEK once the request is executable
//   - status: show the requester's view of a request
//   - keygen: generate an administrator key pair
//
// A full recovery runs across several invocations and actors:
//
//	# each administrator, once; the public key goes into escrowd's admin keys file
//	recoveryctl keygen --admin-privkey-file admin1.pem --admin-pubkey-file admin1-pub.pem
//
//	# support staff opens the request on the user's behalf
//	recoveryctl submit --user-id u-17 --survey-id s-42 --requested-by support-1
//
//	# two distinct administrators approve, then the mandatory delay runs
//	recoveryctl --admin-id admin1 --admin-privkey-file admin1.pem approve --request-id <id>
//	recoveryctl --admin-id admin2 --admin-privkey-file admin2.pem approve --request-id <id>
//
//	# after the delay, with the custodian present
//	recoveryctl --admin-id admin1 --admin-privkey-file admin1.pem execute \
//	  --request-id <id> --custodian-component-file custodian-component.hex
//
// The execute response carries the recovered KEK and is printed to stdout;
// treat it as key material.
package main
