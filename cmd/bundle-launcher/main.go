// Command bundle-launcher downloads, configures and supervises an application bundle.
package main

import "github.com/oshokin/bundle-launcher/cmd/bundle-launcher/cmd"

func main() {
	cmd.Execute()
}
