package propval

import "errors"

// ErrInvalidType is returned by typed constructors when a value's shape
// does not match the type the tag declares.
var ErrInvalidType = errors.New("propval: value does not match tag type")

// ErrUnsupportedType is returned by Serialize/Deserialize for a type code
// not in the closed catalog.
var ErrUnsupportedType = errors.New("propval: unsupported type code")
