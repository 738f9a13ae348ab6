// Package cmd implements the command-line interface for rawnet. It provides
// commands to run a reader and to talk to it with the matching writer.
//
// The package is organized into several subpackages:
//
//   - serve: Runs an echo (or typed dispatch) reader until SIGINT / SIGTERM
//   - send: Sends one request with the writer matching the network and prints the response
//   - perf: Load tests a running reader and reports latency percentiles and throughput
//   - util: Shared flags, configuration and client helpers (internal use)
//
// See rawnet -help for a list of all commands.
package cmd
