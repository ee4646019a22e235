package dnsclient

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
)

// RFC 1035 wire format, A queries only.

const (
	headerLen = 12

	qtypeA  = 1
	qclassIN = 1

	// maxPointerJumps bounds name decompression so a malicious pointer
	// graph cannot loop forever.
	maxPointerJumps = 10
)

// newTransactionID returns a nonzero 16-bit query id.
func newTransactionID() uint16 {
	var buf [2]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// Entropy exhaustion is not a real failure mode; fall back to
			// a fixed odd pattern rather than refusing to resolve.
			return 0x517
		}
		id := binary.BigEndian.Uint16(buf[:])
		if id != 0 {
			return id
		}
	}
}

// encodeName appends the length-prefixed label encoding of domain.
func encodeName(domain string, buf []byte) ([]byte, error) {
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			continue
		}
		if len(label) > 63 {
			return nil, fmt.Errorf("%w: label %q exceeds 63 octets", ErrMalformed, label)
		}
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	return append(buf, 0), nil
}

// buildQuery assembles a standard recursive A query for domain.
func buildQuery(id uint16, domain string) ([]byte, error) {
	buf := make([]byte, 0, headerLen+len(domain)+6)

	var hdr [headerLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], id)
	hdr[2] = 0x01 // QR=0 Opcode=0 AA=0 TC=0 RD=1
	hdr[3] = 0x00 // RA=0 Z=0 RCODE=0
	binary.BigEndian.PutUint16(hdr[4:6], 1) // QDCOUNT
	buf = append(buf, hdr[:]...)

	buf, err := encodeName(domain, buf)
	if err != nil {
		return nil, err
	}

	buf = binary.BigEndian.AppendUint16(buf, qtypeA)
	buf = binary.BigEndian.AppendUint16(buf, qclassIN)
	return buf, nil
}

// decodeName walks a possibly compressed name starting at pos and returns
// the position just past it in the original record. Pointer chains are
// bounded at maxPointerJumps.
func decodeName(msg []byte, pos int) (string, int, error) {
	var sb strings.Builder
	next := -1 // resume position after the first pointer
	jumps := 0

	for {
		if pos >= len(msg) {
			return "", 0, fmt.Errorf("%w: name runs past message end", ErrMalformed)
		}
		length := int(msg[pos])

		switch {
		case length == 0:
			pos++
			if next >= 0 {
				pos = next
			}
			return sb.String(), pos, nil

		case length&0xC0 == 0xC0:
			if pos+1 >= len(msg) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer", ErrMalformed)
			}
			jumps++
			if jumps > maxPointerJumps {
				return "", 0, fmt.Errorf("%w: compression pointer chain too deep", ErrMalformed)
			}
			if next < 0 {
				next = pos + 2
			}
			pos = int(length&0x3F)<<8 | int(msg[pos+1])

		case length > 63:
			return "", 0, fmt.Errorf("%w: label length %d", ErrMalformed, length)

		default:
			pos++
			if pos+length > len(msg) {
				return "", 0, fmt.Errorf("%w: label runs past message end", ErrMalformed)
			}
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.Write(msg[pos : pos+length])
			pos += length
		}
	}
}

// parseResponse extracts the first A record from a response message.
func parseResponse(msg []byte, wantID uint16) (string, error) {
	if len(msg) < headerLen {
		return "", fmt.Errorf("%w: response shorter than header", ErrMalformed)
	}
	if id := binary.BigEndian.Uint16(msg[0:2]); id != wantID {
		return "", fmt.Errorf("%w: transaction id mismatch", ErrMalformed)
	}

	rcode := msg[3] & 0x0F
	if rcode != 0 {
		return "", fmt.Errorf("%w: rcode %d", ErrRefused, rcode)
	}

	qdcount := binary.BigEndian.Uint16(msg[4:6])
	ancount := binary.BigEndian.Uint16(msg[6:8])
	if ancount == 0 {
		return "", ErrNoAnswer
	}

	// Skip question section.
	pos := headerLen
	for i := 0; i < int(qdcount); i++ {
		_, next, err := decodeName(msg, pos)
		if err != nil {
			return "", err
		}
		pos = next + 4 // QTYPE + QCLASS
	}

	for i := 0; i < int(ancount) && pos < len(msg); i++ {
		_, next, err := decodeName(msg, pos)
		if err != nil {
			return "", err
		}
		pos = next
		if pos+10 > len(msg) {
			break
		}

		rtype := binary.BigEndian.Uint16(msg[pos : pos+2])
		rclass := binary.BigEndian.Uint16(msg[pos+2 : pos+4])
		rdlength := int(binary.BigEndian.Uint16(msg[pos+8 : pos+10]))
		pos += 10

		if rtype == qtypeA && rclass == qclassIN && rdlength == 4 {
			if pos+4 > len(msg) {
				break
			}
			return fmt.Sprintf("%d.%d.%d.%d", msg[pos], msg[pos+1], msg[pos+2], msg[pos+3]), nil
		}
		pos += rdlength
	}

	return "", ErrNoAnswer
}
