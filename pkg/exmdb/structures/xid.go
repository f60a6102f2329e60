package structures

import (
	"encoding/binary"
	"fmt"

	"github.com/grommunio/exmdb-go/pkg/exmdb/iobuf"
	"github.com/grommunio/exmdb-go/pkg/exmdb/werr"
)

// MinXIDSize and MaxXIDSize bound SizedXID.Size.
const (
	MinXIDSize = 17
	MaxXIDSize = 24
)

// SizedXID is the versioned identifier written into change keys:
// {size, guid, localId-prefix}.
type SizedXID struct {
	Size    uint8
	GUID    GUID
	LocalID uint64
}

// Serialize writes size, then the GUID, then the first (size-16) bytes of
// LocalID in little-endian order. Fails with
// werr.ErrSerialization if Size is outside [MinXIDSize, MaxXIDSize].
func (x SizedXID) Serialize(buf *iobuf.Buffer) error {
	if x.Size < MinXIDSize || x.Size > MaxXIDSize {
		return fmt.Errorf("%w: SizedXID size %d outside [%d,%d]", werr.ErrSerialization, x.Size, MinXIDSize, MaxXIDSize)
	}
	buf.PushUint8(x.Size)
	x.GUID.Serialize(buf)

	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], x.LocalID)
	n := int(x.Size) - 16
	buf.PushRaw(tmp[:n])
	return nil
}

// DeserializeSizedXID reads the wire form Serialize produces.
func DeserializeSizedXID(buf *iobuf.Buffer) (SizedXID, error) {
	size, err := buf.PopUint8()
	if err != nil {
		return SizedXID{}, err
	}
	if size < MinXIDSize || size > MaxXIDSize {
		return SizedXID{}, fmt.Errorf("%w: SizedXID size %d outside [%d,%d]", werr.ErrSerialization, size, MinXIDSize, MaxXIDSize)
	}
	guid, err := DeserializeGUID(buf)
	if err != nil {
		return SizedXID{}, err
	}
	n := int(size) - 16
	raw, err := buf.PopRaw(n)
	if err != nil {
		return SizedXID{}, err
	}
	var tmp [8]byte
	copy(tmp[:n], raw)
	return SizedXID{Size: size, GUID: guid, LocalID: binary.LittleEndian.Uint64(tmp[:])}, nil
}
