package launcher

import (
	"github.com/oshokin/bundle-launcher/internal/service/extractor"
	"github.com/oshokin/bundle-launcher/internal/service/resolver"
)

// Plan is the result of the bootstrap stages. Each field is written once by
// the stage that produces it and only read afterwards.
type Plan struct {
	// Location is where the archive comes from.
	Location resolver.Location
	// ArchivePath is the downloaded archive; gone after extraction.
	ArchivePath string
	// Bundle is the extracted bundle.
	Bundle *extractor.Bundle
}

// BundleRoot returns the extracted bundle root, empty before extraction.
func (p *Plan) BundleRoot() string {
	if p == nil || p.Bundle == nil {
		return ""
	}

	return p.Bundle.Root
}
