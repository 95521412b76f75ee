package natives

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

var encodingAliases = map[string]string{
	"utf8":      "utf8",
	"utf-8":     "utf8",
	"hex":       "hex",
	"base64":    "base64",
	"base64url": "base64url",
	"latin1":    "latin1",
	"binary":    "latin1",
	"ascii":     "ascii",
	"ucs2":      "utf16le",
	"ucs-2":     "utf16le",
	"utf16le":   "utf16le",
	"utf-16le":  "utf16le",
}

// normalizeEncoding resolves an encoding name case-insensitively
func normalizeEncoding(name string) (string, bool) {
	enc, ok := encodingAliases[strings.ToLower(name)]
	return enc, ok
}

// decodeString turns guest text into bytes. Malformed hex and base64 input
// is decoded up to the first invalid character, as Node does.
func decodeString(op, s, enc string) ([]byte, error) {
	switch enc {
	case "", "utf8":
		return []byte(s), nil
	case "hex":
		n := 0
		for n+1 < len(s) && isHex(s[n]) && isHex(s[n+1]) {
			n += 2
		}
		return hex.DecodeString(s[:n])
	case "base64", "base64url":
		return decodeBase64(s), nil
	case "latin1", "ascii":
		out := make([]byte, 0, len(s))
		for _, r := range s {
			out = append(out, byte(r))
		}
		return out, nil
	case "utf16le":
		units := utf16.Encode([]rune(s))
		out := make([]byte, 2*len(units))
		for i, u := range units {
			out[2*i] = byte(u)
			out[2*i+1] = byte(u >> 8)
		}
		return out, nil
	default:
		return nil, errs.TypeMismatch(op, "Unknown encoding: %s", enc)
	}
}

// encodeBytes renders bytes as guest text
func encodeBytes(p []byte, enc string) string {
	switch enc {
	case "hex":
		return hex.EncodeToString(p)
	case "base64":
		return base64.StdEncoding.EncodeToString(p)
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(p)
	case "latin1":
		var sb strings.Builder
		sb.Grow(len(p))
		for _, c := range p {
			sb.WriteRune(rune(c))
		}
		return sb.String()
	case "ascii":
		var sb strings.Builder
		sb.Grow(len(p))
		for _, c := range p {
			sb.WriteByte(c & 0x7f)
		}
		return sb.String()
	case "utf16le":
		units := make([]uint16, len(p)/2)
		for i := range units {
			units[i] = uint16(p[2*i]) | uint16(p[2*i+1])<<8
		}
		return string(utf16.Decode(units))
	default:
		if utf8.Valid(p) {
			return string(p)
		}
		// Every invalid byte becomes one replacement character
		var sb strings.Builder
		sb.Grow(len(p))
		for len(p) > 0 {
			r, n := utf8.DecodeRune(p)
			sb.WriteRune(r)
			p = p[n:]
		}
		return sb.String()
	}
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// decodeBase64 accepts both alphabets, skips whitespace and stops at
// padding or the first character outside the alphabet
func decodeBase64(s string) []byte {
	clean := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '-':
			c = '+'
		case c == '_':
			c = '/'
		case c == ' ', c == '\n', c == '\r', c == '\t':
			continue
		}
		if !(c == '+' || c == '/' || '0' <= c && c <= '9' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z') {
			break
		}
		clean = append(clean, c)
	}
	if len(clean)%4 == 1 {
		clean = clean[:len(clean)-1]
	}

	out, err := base64.RawStdEncoding.DecodeString(string(clean))
	if err != nil {
		return []byte{}
	}
	return out
}
