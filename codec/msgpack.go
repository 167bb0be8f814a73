package codec

import "github.com/vmihailenco/msgpack/v5"

// Msgpack serializes values with vmihailenco/msgpack/v5. The zero value
// is ready to use.
//
// Msgpack blobs are compact, which matters when rows share a backend
// table with other regions. Struct tags differ from JSON; use
// `msgpack:"fieldName"` tags when the stored shape must stay stable
// across refactors.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
