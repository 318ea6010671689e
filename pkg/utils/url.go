package utils

import (
	"fmt"
	"net/url"
	"strconv"
)

// Parses an address of the form tcp://<host>:<port> and returns <host>:<port>.
// The default port is used when the address has none.
func ParseTcpUrl(urlstr string, defaultPort int) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
	default:
		return "", fmt.Errorf("%w protocol: %s", ErrUnsupported, uri.Scheme)
	}

	if uri.Port() == "" {
		uri.Host += ":" + strconv.Itoa(defaultPort)
	}

	return uri.Host, nil
}

// Parses a listening port given on the command line.
func ParsePort(port string) (int, error) {
	value, err := strconv.Atoi(port)
	if err != nil || value < 0 || value > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", ErrParse, port)
	}
	return value, nil
}
