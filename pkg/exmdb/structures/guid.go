// Package structures implements the small fixed-shape wire records used
// throughout the protocol: GUID, SizedXID, PermissionData, PropertyName,
// and PropertyProblem, plus the EID/change-number algebra.
package structures

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
)

// GUID is a 128-bit Microsoft GUID: {time_low, time_mid, time_hi_and_version,
// clock_seq[2], node[6]}. Its wire layout is the classic
// Microsoft little-endian-head / big-endian-tail structure: the first three
// fields are little-endian, clock_seq and node are raw bytes.
type GUID struct {
	TimeLow          uint32
	TimeMid          uint16
	TimeHiAndVersion uint16
	ClockSeq         [2]byte
	Node             [6]byte
}

// domainGUIDTimeMid, domainGUIDTimeHi, domainGUIDClockSeq, and
// domainGUIDNode are the fixed suffix grommunio uses for GUIDs derived from
// a domain id.
var (
	domainGUIDTimeMid   uint16  = 0x0afb
	domainGUIDTimeHi    uint16  = 0x7df6
	domainGUIDClockSeq          = [2]byte{0x91, 0x92}
	domainGUIDNode              = [6]byte{0x49, 0x88, 0x6a, 0xa7, 0x38, 0xce}
)

// FromDomainID builds the GUID a public folder's change key uses by
// substituting domainID as time_low over the fixed domain-GUID suffix.
func FromDomainID(domainID uint32) GUID {
	return GUID{
		TimeLow:          domainID,
		TimeMid:          domainGUIDTimeMid,
		TimeHiAndVersion: domainGUIDTimeHi,
		ClockSeq:         domainGUIDClockSeq,
		Node:             domainGUIDNode,
	}
}

// ParseGUID parses a canonical hex GUID string ("xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx").
func ParseGUID(s string) (GUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return GUID{}, fmt.Errorf("structures: parse GUID %q: %w", s, err)
	}
	return fromUUIDBytes(u), nil
}

func fromUUIDBytes(u uuid.UUID) GUID {
	return GUID{
		TimeLow:          uint32(u[0])<<24 | uint32(u[1])<<16 | uint32(u[2])<<8 | uint32(u[3]),
		TimeMid:          uint16(u[4])<<8 | uint16(u[5]),
		TimeHiAndVersion: uint16(u[6])<<8 | uint16(u[7]),
		ClockSeq:         [2]byte{u[8], u[9]},
		Node:             [6]byte{u[10], u[11], u[12], u[13], u[14], u[15]},
	}
}

// String renders the GUID in canonical hex form via google/uuid.
func (g GUID) String() string {
	var b [16]byte
	b[0], b[1], b[2], b[3] = byte(g.TimeLow>>24), byte(g.TimeLow>>16), byte(g.TimeLow>>8), byte(g.TimeLow)
	b[4], b[5] = byte(g.TimeMid>>8), byte(g.TimeMid)
	b[6], b[7] = byte(g.TimeHiAndVersion>>8), byte(g.TimeHiAndVersion)
	b[8], b[9] = g.ClockSeq[0], g.ClockSeq[1]
	copy(b[10:16], g.Node[:])
	return uuid.UUID(b).String()
}

// Serialize writes the GUID's Microsoft wire form: time_low/time_mid/
// time_hi_and_version little-endian, followed by clock_seq and node as raw
// bytes.
func (g GUID) Serialize(buf *iobuf.Buffer) {
	buf.PushUint32(g.TimeLow)
	buf.PushUint16(g.TimeMid)
	buf.PushUint16(g.TimeHiAndVersion)
	buf.PushRaw(g.ClockSeq[:])
	buf.PushRaw(g.Node[:])
}

// DeserializeGUID reads the wire form Serialize produces.
func DeserializeGUID(buf *iobuf.Buffer) (GUID, error) {
	var g GUID
	var err error
	if g.TimeLow, err = buf.PopUint32(); err != nil {
		return GUID{}, err
	}
	if g.TimeMid, err = buf.PopUint16(); err != nil {
		return GUID{}, err
	}
	if g.TimeHiAndVersion, err = buf.PopUint16(); err != nil {
		return GUID{}, err
	}
	raw, err := buf.PopRaw(2)
	if err != nil {
		return GUID{}, err
	}
	copy(g.ClockSeq[:], raw)
	raw, err = buf.PopRaw(6)
	if err != nil {
		return GUID{}, err
	}
	copy(g.Node[:], raw)
	return g, nil
}
