// Package codec encodes the metadata persisted next to uploaded segments.
//
// Persisted bytes are self-describing: [Encode] writes the codec and
// compression names into a small header so [Decode] can read manifests
// written with different settings.
package codec

// Codec encodes and decodes values. Implementations are safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
