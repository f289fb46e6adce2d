package streamprobe

import (
	"encoding/binary"
	"math"
)

// AMF0 类型标记
const (
	amf0Number      = 0x00
	amf0Boolean     = 0x01
	amf0String      = 0x02
	amf0Object      = 0x03
	amf0Null        = 0x05
	amf0Undefined   = 0x06
	amf0ECMAArray   = 0x08
	amf0ObjectEnd   = 0x09
	amf0StrictArray = 0x0A
	amf0Date        = 0x0B
	amf0LongString  = 0x0C
)

// amf0Reader 只实现 onMetaData 需要的子集
type amf0Reader struct {
	data []byte
	pos  int
}

func (r *amf0Reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *amf0Reader) readUint16() (int, bool) {
	if r.remaining() < 2 {
		return 0, false
	}
	v := int(binary.BigEndian.Uint16(r.data[r.pos:]))
	r.pos += 2
	return v, true
}

func (r *amf0Reader) readShortString() (string, bool) {
	n, ok := r.readUint16()
	if !ok || r.remaining() < n {
		return "", false
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, true
}

// readValue 读取一个带类型标记的值，遇到不认识的类型时返回 ok=false
func (r *amf0Reader) readValue() (interface{}, bool) {
	if r.remaining() < 1 {
		return nil, false
	}
	marker := r.data[r.pos]
	r.pos++

	switch marker {
	case amf0Number:
		if r.remaining() < 8 {
			return nil, false
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(r.data[r.pos:]))
		r.pos += 8
		return v, true
	case amf0Boolean:
		if r.remaining() < 1 {
			return nil, false
		}
		v := r.data[r.pos] != 0
		r.pos++
		return v, true
	case amf0String:
		return r.readShortString()
	case amf0LongString:
		if r.remaining() < 4 {
			return nil, false
		}
		n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
		r.pos += 4
		if n < 0 || r.remaining() < n {
			return nil, false
		}
		s := string(r.data[r.pos : r.pos+n])
		r.pos += n
		return s, true
	case amf0Null, amf0Undefined:
		return nil, true
	case amf0Object:
		return r.readProperties()
	case amf0ECMAArray:
		if r.remaining() < 4 {
			return nil, false
		}
		r.pos += 4 // 元素个数不可靠，以 object end 为准
		return r.readProperties()
	case amf0StrictArray:
		if r.remaining() < 4 {
			return nil, false
		}
		n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
		r.pos += 4
		arr := make([]interface{}, 0, min(n, 64))
		for i := 0; i < n; i++ {
			v, ok := r.readValue()
			if !ok {
				return arr, false
			}
			arr = append(arr, v)
		}
		return arr, true
	case amf0Date:
		if r.remaining() < 10 {
			return nil, false
		}
		v := math.Float64frombits(binary.BigEndian.Uint64(r.data[r.pos:]))
		r.pos += 10
		return v, true
	default:
		return nil, false
	}
}

func (r *amf0Reader) readProperties() (map[string]interface{}, bool) {
	props := make(map[string]interface{})
	for {
		key, ok := r.readShortString()
		if !ok {
			return props, false
		}
		if key == "" {
			if r.remaining() > 0 && r.data[r.pos] == amf0ObjectEnd {
				r.pos++
			}
			return props, true
		}
		v, ok := r.readValue()
		if !ok {
			return props, false
		}
		props[key] = v
	}
}

// parseOnMetaData 解析 script tag，返回 onMetaData 的键值对；格式不符时返回 nil
// 中途遇到无法解析的值时返回已解析的部分
func parseOnMetaData(data []byte) map[string]interface{} {
	r := &amf0Reader{data: data}
	name, ok := r.readValue()
	if !ok {
		return nil
	}
	if s, _ := name.(string); s != "onMetaData" && s != "@setDataFrame" {
		return nil
	}
	if s, _ := name.(string); s == "@setDataFrame" {
		if _, ok := r.readValue(); !ok {
			return nil
		}
	}
	v, _ := r.readValue()
	meta, _ := v.(map[string]interface{})
	return meta
}

func metaNumber(meta map[string]interface{}, key string) (float64, bool) {
	v, ok := meta[key].(float64)
	return v, ok
}

func metaString(meta map[string]interface{}, key string) (string, bool) {
	v, ok := meta[key].(string)
	return v, ok
}
