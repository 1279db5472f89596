package tiercache

import "encoding/json"

// Codec converts values of type T to and from the byte form stored by the
// disk tier. Implementations must be safe for concurrent use and must round
// trip: Decode(Encode(v)) == v for every value they accept.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// JSONCodec encodes values with encoding/json. It is the codec most callers
// want; supply a custom Codec only when the payload needs a denser or
// schema-checked encoding.
type JSONCodec[T any] struct{}

// Encode marshals v to JSON.
func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Decode unmarshals data into a value of type T.
func (JSONCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
