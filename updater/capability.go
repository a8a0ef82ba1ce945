package updater

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Capability is a server side feature a bulk operation may require.
type Capability string

const (
	// CapUpdateOperators covers filtered $set, $unset and $rename.
	CapUpdateOperators Capability = "update-operators"
	// CapPipelineUpdate covers update documents given as aggregation pipelines.
	CapPipelineUpdate Capability = "pipeline-update"
)

var capabilityConstraints = map[Capability]string{
	CapUpdateOperators: ">= 2.6",
	CapPipelineUpdate:  ">= 4.2",
}

// Backend describes what the storage server can do.
type Backend struct {
	Version *semver.Version
}

// ParseBackend parses a version string such as "6.0.4". An unparsable
// version yields a backend without capabilities.
func ParseBackend(version string) Backend {
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return Backend{}
	}
	return Backend{Version: v}
}

func (b Backend) String() string {
	if b.Version == nil {
		return "unknown"
	}
	return b.Version.String()
}

// Supports reports whether the backend offers every capability.
func (b Backend) Supports(caps ...Capability) bool {
	if b.Version == nil {
		return len(caps) == 0
	}
	for _, c := range caps {
		constraint, ok := capabilityConstraints[c]
		if !ok {
			return false
		}
		cs, err := semver.NewConstraint(constraint)
		if err != nil || !cs.Check(b.Version) {
			return false
		}
	}
	return true
}
