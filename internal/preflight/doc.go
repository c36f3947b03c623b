// Package preflight provides readiness checks for the filesystem paths and
// engines tonearm depends on.
//
// The CLI runs RunAll before starting jobs so a missing or read-only work
// directory is reported up front instead of as a failure halfway through a
// download. "tonearm status" renders the same results alongside the engine
// report from the deps package.
package preflight
