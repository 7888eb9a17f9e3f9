// Package setup checks that the host can run a stemcell build: the privilege
// escalation binary is available and the stage source tree is laid out as
// the runner expects.
//
// Like the CLI entry point, this package logs through a package-level logger
// configured with SetLogger.
package setup
