package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype both services speak. Clients dial with
// grpc.CallContentSubtype(CodecName).
const CodecName = "json"

// jsonCodec satisfies grpc encoding.Codec; message types are plain structs
// with JSON tags.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func encodeErrorBody(b ErrorBody) string {
	buf, err := json.Marshal(b)
	if err != nil {
		return fmt.Sprintf(`{"code":"INTERNAL_ERROR","message":%q}`, b.Message)
	}
	return string(buf)
}

// DecodeErrorBody parses a status message back into the typed body; ok is
// false when the message is not structured.
func DecodeErrorBody(msg string) (ErrorBody, bool) {
	var b ErrorBody
	if err := json.Unmarshal([]byte(msg), &b); err != nil || b.Code == "" {
		return ErrorBody{}, false
	}
	return b, true
}

func itoa(n int) string { return strconv.Itoa(n) }
