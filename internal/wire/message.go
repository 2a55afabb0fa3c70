package wire

import (
	"bytes"
	"encoding/binary"
)

const headerSize = 12

// DNS record types relevant to this codec (spec.md §4.2: only NS and CNAME
// carry a name in RDATA that must be decompressed on parse).
const (
	TypeA     = 1
	TypeNS    = 2
	TypeCNAME = 5
)

// Header is the 12-byte DNS message header (RFC 1035 §4.1.1). Flags are
// carried as an opaque 16-bit word on input, per spec.md §6.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Header flag words used by this forwarder for queries and responses
// (spec.md §4.5/§4.6).
const (
	FlagStandardQuery = 0x0100 // RD set, everything else clear
	FlagResponse      = 0x8000 // QR set, everything else clear
)

// Question is a DNS question section entry.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Equal reports whether two questions are byte-for-byte equivalent, used
// by the self-forwarder guard (spec.md §4.6) to recognize its own probe.
func (q Question) Equal(other Question) bool {
	return q.Name == other.Name && q.Type == other.Type && q.Class == other.Class
}

// ResourceRecord is a DNS resource record. RData is opaque except for
// NS/CNAME, where it is the (canonicalized, uncompressed) encoded name.
type ResourceRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	RData []byte
}

// SameRecord reports whether two RRs share the four-field identity
// spec.md §3 uses for cache equality: (rname, rtype, rclass, rdata).
func (rr ResourceRecord) SameRecord(other ResourceRecord) bool {
	return rr.Name == other.Name &&
		rr.Type == other.Type &&
		rr.Class == other.Class &&
		bytes.Equal(rr.RData, other.RData)
}

// MatchesQuestion reports whether the RR's (rname, rtype, rclass) answers
// the given question.
func (rr ResourceRecord) MatchesQuestion(q Question) bool {
	return rr.Name == q.Name && rr.Type == q.Type && rr.Class == q.Class
}

// Message is a full DNS message: header plus the four sections.
type Message struct {
	Header     Header
	Questions  []Question
	Answers    []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// Parse decodes a complete DNS message from its wire representation.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < headerSize {
		return nil, ErrMessageTooShort
	}

	m := &Message{}
	m.Header.ID = binary.BigEndian.Uint16(buf[0:2])
	m.Header.Flags = binary.BigEndian.Uint16(buf[2:4])
	m.Header.QDCount = binary.BigEndian.Uint16(buf[4:6])
	m.Header.ANCount = binary.BigEndian.Uint16(buf[6:8])
	m.Header.NSCount = binary.BigEndian.Uint16(buf[8:10])
	m.Header.ARCount = binary.BigEndian.Uint16(buf[10:12])

	c := newCursor(buf, headerSize)

	questions := make([]Question, 0, m.Header.QDCount)
	for i := 0; i < int(m.Header.QDCount); i++ {
		q, err := parseQuestion(c)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	m.Questions = questions

	var err error
	m.Answers, err = parseRRSection(c, int(m.Header.ANCount))
	if err != nil {
		return nil, err
	}
	m.Authority, err = parseRRSection(c, int(m.Header.NSCount))
	if err != nil {
		return nil, err
	}
	m.Additional, err = parseRRSection(c, int(m.Header.ARCount))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func parseQuestion(c *cursor) (Question, error) {
	name, err := c.decodeName()
	if err != nil {
		return Question{}, err
	}
	rest, err := c.readBytes(4)
	if err != nil {
		return Question{}, err
	}
	return Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(rest[0:2]),
		Class: binary.BigEndian.Uint16(rest[2:4]),
	}, nil
}

func parseRRSection(c *cursor, count int) ([]ResourceRecord, error) {
	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, err := parseRR(c)
		if err != nil {
			return nil, err
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

func parseRR(c *cursor) (ResourceRecord, error) {
	name, err := c.decodeName()
	if err != nil {
		return ResourceRecord{}, err
	}

	fixed, err := c.readBytes(10)
	if err != nil {
		return ResourceRecord{}, err
	}
	rtype := binary.BigEndian.Uint16(fixed[0:2])
	rclass := binary.BigEndian.Uint16(fixed[2:4])
	ttl := binary.BigEndian.Uint32(fixed[4:8])
	rdlen := binary.BigEndian.Uint16(fixed[8:10])

	var rdata []byte
	switch rtype {
	case TypeNS, TypeCNAME:
		// RDATA is itself a (possibly compressed) name: decode it against
		// the whole packet, then re-encode uncompressed so serialize and
		// cache-equality comparisons see a canonical form.
		rdStart := c.offset
		rdCursor := newCursor(c.buf, rdStart)
		decoded, err := rdCursor.decodeName()
		if err != nil {
			return ResourceRecord{}, err
		}
		if rdCursor.offset-rdStart > int(rdlen) {
			// The embedded name, even uncompressed, must fit within the
			// declared RDATA length when it doesn't follow a pointer out
			// of this record.
			return ResourceRecord{}, ErrMessageTooShort
		}
		encoded, err := encodeName(decoded)
		if err != nil {
			return ResourceRecord{}, err
		}
		rdata = encoded
		if err := c.seek(rdStart + int(rdlen)); err != nil {
			return ResourceRecord{}, err
		}
	default:
		raw, err := c.readBytes(int(rdlen))
		if err != nil {
			return ResourceRecord{}, err
		}
		rdata = append([]byte(nil), raw...)
	}

	return ResourceRecord{
		Name:  name,
		Type:  rtype,
		Class: rclass,
		TTL:   ttl,
		RData: rdata,
	}, nil
}

// Marshal serializes a message to wire format. Header counts are taken
// from the actual section lengths, not any previously parsed counts.
// No compression is emitted on output (spec.md §4.1).
func (m *Message) Marshal() ([]byte, error) {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], m.Header.ID)
	binary.BigEndian.PutUint16(buf[2:4], m.Header.Flags)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(m.Questions)))
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(m.Answers)))
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(m.Authority)))
	binary.BigEndian.PutUint16(buf[10:12], uint16(len(m.Additional)))

	for _, q := range m.Questions {
		encoded, err := encodeName(q.Name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
		var rest [4]byte
		binary.BigEndian.PutUint16(rest[0:2], q.Type)
		binary.BigEndian.PutUint16(rest[2:4], q.Class)
		buf = append(buf, rest[:]...)
	}

	for _, section := range [][]ResourceRecord{m.Answers, m.Authority, m.Additional} {
		for _, rr := range section {
			encoded, err := encodeName(rr.Name)
			if err != nil {
				return nil, err
			}
			buf = append(buf, encoded...)

			var fixed [10]byte
			binary.BigEndian.PutUint16(fixed[0:2], rr.Type)
			binary.BigEndian.PutUint16(fixed[2:4], rr.Class)
			binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
			binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rr.RData)))
			buf = append(buf, fixed[:]...)
			buf = append(buf, rr.RData...)
		}
	}

	return buf, nil
}
