package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// Row is an ordered tuple of column values, positionally aligned with a
// Table's Schema.
type Row []Value

// wire type tags: one byte per encoded value identifying its Kind.
const (
	tagNull    byte = 0x00
	tagBool    byte = 0x01
	tagI32     byte = 0x02
	tagI64     byte = 0x03
	tagF64     byte = 0x04
	tagDecimal byte = 0x05
	tagUTF8    byte = 0x06
	tagBlob    byte = 0x07
)

func tagFor(k Kind) byte {
	switch k {
	case KindNull:
		return tagNull
	case KindBool:
		return tagBool
	case KindI32:
		return tagI32
	case KindI64:
		return tagI64
	case KindF64:
		return tagF64
	case KindDecimal:
		return tagDecimal
	case KindUTF8:
		return tagUTF8
	case KindBlob:
		return tagBlob
	default:
		panic(fmt.Sprintf("storage: no wire tag for %s", k))
	}
}

// EncodeRow serializes row into the compact binary row format:
// schema-id (u16), a null-bitmap, then each non-null column's type tag and
// payload. It reuses buf's backing array when large enough, mirroring the
// teacher's allocation-avoiding MarshalRow.
func EncodeRow(schemaID uint16, row Row, buf []byte) []byte {
	nullBitmapLen := (len(row) + 7) / 8
	est := 2 + nullBitmapLen + len(row)*9
	if cap(buf) >= est {
		buf = buf[:0]
	} else {
		buf = make([]byte, 0, est)
	}

	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], schemaID)
	buf = append(buf, hdr[:]...)

	nullBitmap := make([]byte, nullBitmapLen)
	for i, v := range row {
		if v.IsNull() {
			nullBitmap[i/8] |= 1 << uint(i%8)
		}
	}
	buf = append(buf, nullBitmap...)

	for _, v := range row {
		if v.IsNull() {
			continue
		}
		buf = append(buf, tagFor(v.Kind))
		switch v.Kind {
		case KindBool:
			if v.Bool {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		case KindI32:
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(int32(v.I)))
			buf = append(buf, b[:]...)
		case KindI64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(v.I))
			buf = append(buf, b[:]...)
		case KindF64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.F))
			buf = append(buf, b[:]...)
		case KindDecimal:
			s := v.Dec.RatString()
			buf = appendLenPrefixed(buf, []byte(s))
		case KindUTF8:
			buf = appendLenPrefixed(buf, []byte(v.S))
		case KindBlob:
			buf = appendLenPrefixed(buf, v.B)
		}
	}
	return buf
}

func appendLenPrefixed(buf, data []byte) []byte {
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	buf = append(buf, data...)
	return buf
}

// DecodeRow is the inverse of EncodeRow, given the column count from the
// owning Table's schema (the wire format omits a column count — it is
// implied by the schema referenced by schema-id).
func DecodeRow(data []byte, colCount int) (schemaID uint16, row Row, err error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("storage: row data too short")
	}
	schemaID = binary.LittleEndian.Uint16(data[:2])
	off := 2

	nullBitmapLen := (colCount + 7) / 8
	if off+nullBitmapLen > len(data) {
		return 0, nil, fmt.Errorf("storage: truncated null bitmap")
	}
	nullBitmap := data[off : off+nullBitmapLen]
	off += nullBitmapLen

	row = make(Row, colCount)
	for i := 0; i < colCount; i++ {
		if nullBitmap[i/8]&(1<<uint(i%8)) != 0 {
			row[i] = Null
			continue
		}
		if off >= len(data) {
			return 0, nil, fmt.Errorf("storage: unexpected end of row at column %d", i)
		}
		tag := data[off]
		off++
		switch tag {
		case tagBool:
			if off >= len(data) {
				return 0, nil, fmt.Errorf("storage: truncated bool at column %d", i)
			}
			row[i] = Bool(data[off] != 0)
			off++
		case tagI32:
			if off+4 > len(data) {
				return 0, nil, fmt.Errorf("storage: truncated i32 at column %d", i)
			}
			row[i] = I32(int32(binary.LittleEndian.Uint32(data[off : off+4])))
			off += 4
		case tagI64:
			if off+8 > len(data) {
				return 0, nil, fmt.Errorf("storage: truncated i64 at column %d", i)
			}
			row[i] = I64(int64(binary.LittleEndian.Uint64(data[off : off+8])))
			off += 8
		case tagF64:
			if off+8 > len(data) {
				return 0, nil, fmt.Errorf("storage: truncated f64 at column %d", i)
			}
			row[i] = F64(math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+8])))
			off += 8
		case tagDecimal:
			b, n, err := readLenPrefixed(data, off)
			if err != nil {
				return 0, nil, err
			}
			off = n
			r := new(big.Rat)
			if _, ok := r.SetString(string(b)); !ok {
				return 0, nil, fmt.Errorf("storage: bad decimal literal at column %d", i)
			}
			row[i] = Decimal(r)
		case tagUTF8:
			b, n, err := readLenPrefixed(data, off)
			if err != nil {
				return 0, nil, err
			}
			off = n
			row[i] = UTF8(string(b))
		case tagBlob:
			b, n, err := readLenPrefixed(data, off)
			if err != nil {
				return 0, nil, err
			}
			off = n
			row[i] = Blob(b)
		default:
			return 0, nil, fmt.Errorf("storage: unknown tag 0x%02x at column %d", tag, i)
		}
	}
	return schemaID, row, nil
}

func readLenPrefixed(data []byte, off int) (val []byte, next int, err error) {
	if off+4 > len(data) {
		return nil, 0, fmt.Errorf("storage: truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+n > len(data) {
		return nil, 0, fmt.Errorf("storage: truncated payload")
	}
	dst := make([]byte, n)
	copy(dst, data[off:off+n])
	return dst, off + n, nil
}

// Clone returns a deep copy of row, used when handing rows to callers:
// every row materialized to the caller is fully owned by the caller.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for i, v := range r {
		out[i] = v
		if v.Kind == KindBlob {
			b := make([]byte, len(v.B))
			copy(b, v.B)
			out[i].B = b
		}
		if v.Kind == KindDecimal && v.Dec != nil {
			out[i].Dec = new(big.Rat).Set(v.Dec)
		}
	}
	return out
}
