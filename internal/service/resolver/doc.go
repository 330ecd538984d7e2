// Package resolver determines where the bundle archive is downloaded from.
//
// Sources are consulted in priority order: the launcher manifest's
// "repository" field, a host/owner/repo reference inside the operator
// override file, the remote url of a local git configuration, and finally a
// configured default. Resolution never fails.
package resolver
