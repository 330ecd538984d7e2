// Package state persists the supervisor status.
//
// The FileRepository stores and loads the status as JSON on disk so operators
// and scripts can inspect a running launcher without the control API.
package state
