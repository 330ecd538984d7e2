// Package configurator overlays the operator's override file onto the
// extracted bundle's configuration, keeping the previous version as a backup.
package configurator
