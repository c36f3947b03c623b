// Package logs reads the tonearm log file for `tonearm logs`: the last N lines
// with bounded memory, then optional follow mode that polls for appended
// lines until the caller's context ends.
package logs
