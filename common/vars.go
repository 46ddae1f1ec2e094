package common

// PackageName is the metrics and logging namespace for this service.
const PackageName = "survey-key-escrow"

// Version is the service version, overwritten at build time:
//
//	go build -ldflags "-X github.com/vitalform/survey-key-escrow/common.Version=v1.2.3"
var Version = "dev"
