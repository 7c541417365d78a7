package transport

import "strings"

// Connect opens an Endpoint for identifier, dispatching on its scheme
// prefix: "serial:<path>" for a real serial device, "virtual" for a pty
// pair (descriptor ignored), "forwarded" for an SSH-tunnelled endpoint.
func Connect(identifier string, desc Descriptor) (Endpoint, error) {
	scheme, rest, _ := strings.Cut(identifier, ":")
	switch scheme {
	case "serial":
		return OpenSerial(rest, desc)
	case "virtual":
		ep, _, err := OpenVirtual()
		return ep, err
	case "forwarded":
		return OpenForwarded(desc)
	default:
		return OpenSerial(identifier, desc)
	}
}
