// Package main implements the tonearm command: downloads and re-encodes run
// in-process on the workflow manager, while library, history and cleanup
// subcommands inspect the local state the jobs leave behind.
package main
