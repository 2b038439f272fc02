package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cwrk-planet/signaling-service/internal/domain"

	"github.com/vmihailenco/msgpack/v5"
)

// asJSON returns p as JSON, converting only msgpack payloads. Integers keep
// full 64-bit precision; bin becomes a base64 string and non-string map keys
// are formatted, as JSON has nothing closer.
func asJSON(p domain.Payload) (json.RawMessage, error) {
	if p.Empty() || p.Encoding == domain.EncodingJSON {
		return json.RawMessage(p.Raw), nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(p.Raw))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetMapDecoder(decodeStringKeyedMap)

	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("transcode msgpack payload: %w", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("transcode msgpack payload: %w", err)
	}
	return b, nil
}

// asMsgpack returns p as msgpack, converting only JSON payloads. Numbers are
// read with UseNumber so integers are not squeezed through float64.
func asMsgpack(p domain.Payload) (msgpack.RawMessage, error) {
	if p.Empty() || p.Encoding == domain.EncodingMsgpack {
		return msgpack.RawMessage(p.Raw), nil
	}
	dec := json.NewDecoder(bytes.NewReader(p.Raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("transcode json payload: %w", err)
	}
	b, err := msgpack.Marshal(exactNumbers(v))
	if err != nil {
		return nil, fmt.Errorf("transcode json payload: %w", err)
	}
	return b, nil
}

func decodeStringKeyedMap(d *msgpack.Decoder) (any, error) {
	n, err := d.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := d.DecodeInterfaceLoose()
		if err != nil {
			return nil, err
		}
		v, err := d.DecodeInterfaceLoose()
		if err != nil {
			return nil, err
		}
		m[mapKey(k)] = v
	}
	return m, nil
}

func mapKey(k any) string {
	switch k := k.(type) {
	case string:
		return k
	case []byte:
		return string(k)
	case nil:
		return "null"
	default:
		return fmt.Sprint(k)
	}
}

// exactNumbers swaps json.Number leaves for int64, uint64 or float64,
// whichever holds the literal without loss.
func exactNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return u
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = exactNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = exactNumbers(e)
		}
		return v
	default:
		return v
	}
}
