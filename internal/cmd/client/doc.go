// Package clientcmd holds the CLI commands that talk to a running server
// over HTTP: publishing events and tailing streams.
package clientcmd
