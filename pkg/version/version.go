package version

// Version is the current version of the crisis monitor
const Version = "0.3.0"

// Name is the service name used in headers and the CLI
const Name = "crisis-monitor"

// UserAgent returns the User-Agent string for outbound connections
func UserAgent() string {
	return Name + "/" + Version
}

// ServerHeader returns the Server header value for HTTP responses
func ServerHeader() string {
	return Name + "/" + Version
}
