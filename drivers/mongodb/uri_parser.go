package mongodb

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rediwo/redi-migrate/types"
)

// MongoDBURIParser handles MongoDB URI parsing
type MongoDBURIParser struct{}

// NewMongoDBURIParser creates a new MongoDB URI parser
func NewMongoDBURIParser() *MongoDBURIParser {
	return &MongoDBURIParser{}
}

// ParseURI validates a MongoDB URI and returns it unchanged; the official
// driver consumes the standard format directly. A database name is required.
func (p *MongoDBURIParser) ParseURI(uri string) (string, error) {
	parsedURI, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI format: %w", err)
	}

	if !p.isValidScheme(parsedURI.Scheme) {
		return "", fmt.Errorf("unsupported scheme: %s", parsedURI.Scheme)
	}
	if parsedURI.Host == "" {
		return "", fmt.Errorf("host is required in MongoDB URI")
	}
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return "", fmt.Errorf("MongoDB URI must start with mongodb:// or mongodb+srv://")
	}
	if extractDatabaseName(uri) == "" {
		return "", fmt.Errorf("database name is required in MongoDB URI")
	}
	return uri, nil
}

// GetSupportedSchemes returns the URI schemes supported by this parser
func (p *MongoDBURIParser) GetSupportedSchemes() []string {
	return []string{"mongodb", "mongodb+srv"}
}

// GetDriverType returns the driver type for this parser
func (p *MongoDBURIParser) GetDriverType() string {
	return string(types.DriverMongoDB)
}

func (p *MongoDBURIParser) isValidScheme(scheme string) bool {
	for _, s := range p.GetSupportedSchemes() {
		if s == strings.ToLower(scheme) {
			return true
		}
	}
	return false
}

// extractDatabaseName returns the path component of a MongoDB URI.
func extractDatabaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	return strings.Trim(u.Path, "/")
}
