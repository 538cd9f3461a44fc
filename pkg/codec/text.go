package codec

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type textCodec struct{}

func (textCodec) Binary() bool {
	return false
}

func (textCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (textCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
