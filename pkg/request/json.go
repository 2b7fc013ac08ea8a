package request

import (
	"reflect"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/modern-go/reflect2"
)

// json - replacement of the standard encoding/json library.
// HTML characters are not escaped, the output is the same as from JSON.stringify.
// Ordered maps keep the order of keys, at any level.
var json = newJSON() //nolint:gochecknoglobals

func newJSON() jsoniter.API {
	api := jsoniter.Config{
		EscapeHTML:             false,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
	}.Froze()
	api.RegisterExtension(&orderedMapExtension{})
	return api
}

// JSON returns the JSON codec used for request bodies.
func JSON() jsoniter.API {
	return json
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// orderedMapExtension replaces OrderedMap.MarshalJSON,
// it escapes HTML and its output is not compact inside other values.
type orderedMapExtension struct {
	jsoniter.DummyExtension
}

func (orderedMapExtension) CreateEncoder(typ reflect2.Type) jsoniter.ValEncoder {
	switch typ.Type1() {
	case reflect.TypeOf(orderedmap.OrderedMap{}):
		return orderedMapEncoder{}
	case reflect.TypeOf(&orderedmap.OrderedMap{}):
		return &jsoniter.OptionalEncoder{ValueEncoder: orderedMapEncoder{}}
	default:
		return nil
	}
}

type orderedMapEncoder struct{}

func (orderedMapEncoder) IsEmpty(ptr unsafe.Pointer) bool {
	return len((*orderedmap.OrderedMap)(ptr).Keys()) == 0
}

func (orderedMapEncoder) Encode(ptr unsafe.Pointer, stream *jsoniter.Stream) {
	m := (*orderedmap.OrderedMap)(ptr)
	stream.WriteObjectStart()
	for i, key := range m.Keys() {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(key)
		value, _ := m.Get(key)
		stream.WriteVal(value)
	}
	stream.WriteObjectEnd()
}
