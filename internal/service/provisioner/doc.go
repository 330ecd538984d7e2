// Package provisioner installs the bundle's runtime dependencies by running
// an external installer inside the bundle root. Failures never abort a run.
package provisioner
