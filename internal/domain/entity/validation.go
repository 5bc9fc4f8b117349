package entity

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// maxURLLength defines the maximum allowed length for URLs to prevent DoS attacks.
const maxURLLength = 2048

// ValidateEndpointURL validates the format of a webhook endpoint URL.
// It checks that the URL is well-formed, uses HTTP/HTTPS scheme, and has a
// valid host. Localhost and bare IP addresses (with an optional port) are
// accepted: delivery targets are frequently internal services.
// Returns a ValidationError if the URL is invalid or empty.
func ValidateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return &ValidationError{Field: "endpoint", Message: "endpoint URL is required"}
	}

	if len(rawURL) > maxURLLength {
		return &ValidationError{
			Field:   "endpoint",
			Message: fmt.Sprintf("endpoint must not exceed %d characters", maxURLLength),
		}
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{
			Field:   "endpoint",
			Message: fmt.Sprintf("endpoint is not a valid URL: %v", err),
		}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return &ValidationError{Field: "endpoint", Message: "endpoint must use http or https scheme"}
	}

	host := parsedURL.Hostname()
	if host == "" {
		return &ValidationError{Field: "endpoint", Message: "endpoint must have a valid host"}
	}

	// Hostname, localhost, or a literal IP are all acceptable hosts.
	if host != "localhost" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return &ValidationError{Field: "endpoint", Message: "endpoint host is not a valid hostname or IP"}
	}

	if port := parsedURL.Port(); port != "" {
		if err := validatePort(port); err != nil {
			return &ValidationError{Field: "endpoint", Message: err.Error()}
		}
	}

	return nil
}

// isValidHostname applies a light structural check on hostnames.
// Full RFC 1123 validation is left to the resolver at request time.
func isValidHostname(host string) bool {
	if len(host) > 253 {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port '%s'", port)
	}
	return nil
}
