package types

// DriverType names a storage or state backend.
// It's defined as a string to allow extensibility for new drivers
type DriverType string

// Well-known driver types
const (
	DriverMongoDB    DriverType = "mongodb"
	DriverMemory     DriverType = "memory"
	DriverSQLite     DriverType = "sqlite"
	DriverMySQL      DriverType = "mysql"
	DriverPostgreSQL DriverType = "postgresql"
)

// String returns the string representation of the driver type
func (d DriverType) String() string {
	return string(d)
}
