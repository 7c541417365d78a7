package brlapi

import (
	"strings"

	"github.com/gdamore/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// charsetDecoder converts one encoding's bytes to a UTF-8 string.
type charsetDecoder func([]byte) (string, error)

func gdamoreDecoder(enc encoding.Encoding) charsetDecoder {
	return func(data []byte) (string, error) {
		out, _, err := transform.String(enc.NewDecoder(), string(data))
		return out, err
	}
}

func charmapDecoder(cm *charmap.Charmap) charsetDecoder {
	return func(data []byte) (string, error) {
		out, _, err := transform.String(cm.NewDecoder(), string(data))
		return out, err
	}
}

// namedCharsets resolves a Write message's charset field to a decoder.
// BrlAPI clients most commonly send UTF-8 (handled separately below, with no
// conversion needed) or one of the legacy console encodings terminal
// emulators still advertise.
var namedCharsets = map[string]charsetDecoder{
	"cp437":       gdamoreDecoder(encoding.CP437),
	"ibm437":      gdamoreDecoder(encoding.CP437),
	"cp850":       gdamoreDecoder(encoding.CP850),
	"koi8-r":      gdamoreDecoder(encoding.KOI8R),
	"koi8-u":      gdamoreDecoder(encoding.KOI8U),
	"iso-8859-1":  charmapDecoder(charmap.ISO8859_1),
	"iso8859-1":   charmapDecoder(charmap.ISO8859_1),
	"latin1":      charmapDecoder(charmap.ISO8859_1),
	"iso-8859-15": charmapDecoder(charmap.ISO8859_15),
}

// decodeCharset converts data from the named charset to UTF-8. An empty or
// unrecognized name, or "utf-8" itself, passes data through unchanged since
// that's the wire format's default.
func decodeCharset(name string, data []byte) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "utf-8" || key == "utf8" {
		return string(data), nil
	}
	dec, ok := namedCharsets[key]
	if !ok {
		return string(data), nil
	}
	return dec(data)
}
