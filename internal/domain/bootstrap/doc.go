// Package bootstrap contains the core domain types shared by the pipeline stages.
//
// It defines the error taxonomy every stage wraps its failures with and the
// supervised child's restart state, together with the Status snapshot the
// supervisor publishes for operators.
package bootstrap
