package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type binaryCodec struct{}

func (binaryCodec) Binary() bool {
	return true
}

// Marshal takes v through its JSON form, so struct tags decide the field names exactly as they do
// for text frames.
func (binaryCodec) Marshal(v interface{}) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	value, err := structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to protobuf value: %v", err)
	}
	return proto.Marshal(value)
}

func (binaryCodec) Unmarshal(data []byte, v interface{}) error {
	var value structpb.Value
	if err := proto.Unmarshal(data, &value); err != nil {
		return err
	}
	generic := value.AsInterface()
	switch target := v.(type) {
	case *interface{}:
		*target = generic
		return nil
	case *map[string]interface{}:
		m, ok := generic.(map[string]interface{})
		if !ok {
			return fmt.Errorf("expected an object, got %T", generic)
		}
		*target = m
		return nil
	}
	buf, err := json.Marshal(generic)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, v)
}

// toGeneric converts v into the maps, slices and scalars structpb.NewValue understands.
func toGeneric(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, bool, string, float64, map[string]interface{}, []interface{}:
		return v, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(buf, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
