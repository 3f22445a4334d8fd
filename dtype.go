package rlbridge

import (
	"encoding/binary"
	"fmt"
	"math"
)

// dtypeInfo is the decoded form of a dtype code like "<u2" or "|i8":
// byte order, element kind (unsigned/signed/float), and element width.
type dtypeInfo struct {
	code  string
	order binary.ByteOrder
	kind  byte // 'u', 'i', 'f', or 'b' ('b' is read and written as unsigned)
	width int  // bytes per element
}

func parseDtypeInfo(code string) (dtypeInfo, error) {
	if err := validateDtypeCode(code); err != nil {
		return dtypeInfo{}, err
	}
	i := 0
	order := binary.ByteOrder(binary.LittleEndian)
	switch code[0] {
	case '<':
		order = binary.LittleEndian
		i++
	case '>':
		order = binary.BigEndian
		i++
	case '=', '|':
		i++
	}
	kind := code[i]
	width := 0
	for _, c := range code[i+1:] {
		width = width*10 + int(c-'0')
	}
	switch width {
	case 1, 2, 4, 8:
	default:
		return dtypeInfo{}, fmt.Errorf("dtype %q: unsupported element width %d", code, width)
	}
	return dtypeInfo{code: code, order: order, kind: kind, width: width}, nil
}

// getElement decodes the element at the given flat index from a mapped
// byte region into a float64, regardless of dtype kind/width.
func (d dtypeInfo) getElement(data []byte, idx int) float64 {
	off := idx * d.width
	raw := data[off : off+d.width]
	switch d.width {
	case 1:
		v := raw[0]
		if d.kind == 'i' {
			return float64(int8(v))
		}
		return float64(v)
	case 2:
		v := d.order.Uint16(raw)
		if d.kind == 'i' {
			return float64(int16(v))
		}
		return float64(v)
	case 4:
		v := d.order.Uint32(raw)
		switch d.kind {
		case 'i':
			return float64(int32(v))
		case 'f':
			return float64(math.Float32frombits(v))
		default:
			return float64(v)
		}
	default: // 8
		v := d.order.Uint64(raw)
		switch d.kind {
		case 'i':
			return float64(int64(v))
		case 'f':
			return math.Float64frombits(v)
		default:
			return float64(v)
		}
	}
}

// putElement encodes f into the element at the given flat index in a
// mapped byte region.
func (d dtypeInfo) putElement(data []byte, idx int, f float64) {
	off := idx * d.width
	raw := data[off : off+d.width]
	switch d.width {
	case 1:
		if d.kind == 'i' {
			raw[0] = byte(int8(f))
		} else {
			raw[0] = byte(uint8(f))
		}
	case 2:
		var v uint16
		if d.kind == 'i' {
			v = uint16(int16(f))
		} else {
			v = uint16(f)
		}
		d.order.PutUint16(raw, v)
	case 4:
		var v uint32
		switch d.kind {
		case 'i':
			v = uint32(int32(f))
		case 'f':
			v = math.Float32bits(float32(f))
		default:
			v = uint32(f)
		}
		d.order.PutUint32(raw, v)
	default: // 8
		var v uint64
		switch d.kind {
		case 'i':
			v = uint64(int64(f))
		case 'f':
			v = math.Float64bits(f)
		default:
			v = uint64(f)
		}
		d.order.PutUint64(raw, v)
	}
}
