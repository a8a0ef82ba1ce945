package types

// URIParser defines the interface for backend-specific URI parsing
type URIParser interface {
	// ParseURI validates a URI and returns the native connection string the
	// backend's client library expects
	ParseURI(uri string) (string, error)

	// GetSupportedSchemes returns the URI schemes this parser supports (e.g., ["mongodb"])
	GetSupportedSchemes() []string

	// GetDriverType returns the driver type this parser is for
	GetDriverType() string
}
