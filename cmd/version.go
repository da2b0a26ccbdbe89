// -- cmd/version.go --
package cmd

// Version holds the application version string. It is overridden at
// build time via:
//
//	go build -ldflags "-X github.com/fitchecklabs/fitcheck-cli/cmd.Version=1.2.3"
var Version = "0.1.0"
