package ddbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"

	"github.com/acksell/facet/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key encoding for BadgerDB that supports lexicographic ordering.
//
// Table keys:  [table][0x00][pk][0x00][sk]
// Index keys:  [table][$gsi:][index][0x00][pk][0x00][sk][0x00][table key]
//
// Index entries end with the table key because index keys need not be unique.

const (
	keySeparator byte = 0x00
	gsiMarker         = "$gsi:"
)

const (
	keyTypeString byte = 'S'
	keyTypeNumber byte = 'N'
	keyTypeBinary byte = 'B'
)

// keyspace encodes the keys of a table or of one of its indexes.
type keyspace struct {
	table string
	index string
	keys  table.PrimaryKeyDefinition
}

func (k keyspace) prefix() []byte {
	var buf bytes.Buffer
	buf.WriteString(k.table)
	if k.index != "" {
		buf.WriteString(gsiMarker)
		buf.WriteString(k.index)
	}
	buf.WriteByte(keySeparator)
	return buf.Bytes()
}

// partitionPrefix returns the prefix shared by all entries of one partition.
func (k keyspace) partitionPrefix(pk types.AttributeValue) ([]byte, error) {
	buf := bytes.NewBuffer(k.prefix())
	if err := encodeKeyValue(buf, pk, k.keys.PartitionKey.Kind); err != nil {
		return nil, fmt.Errorf("encode partition key %q: %w", k.keys.PartitionKey.Name, err)
	}
	buf.WriteByte(keySeparator)
	return buf.Bytes(), nil
}

// encode returns the key of item. tableKey is appended for index entries.
func (k keyspace) encode(item Item, tableKey []byte) ([]byte, error) {
	pk, ok := item[k.keys.PartitionKey.Name]
	if !ok {
		return nil, fmt.Errorf("partition key %q not found", k.keys.PartitionKey.Name)
	}
	prefix, err := k.partitionPrefix(pk)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(prefix)
	if k.keys.SortKey.Name != "" {
		sk, ok := item[k.keys.SortKey.Name]
		if !ok {
			return nil, fmt.Errorf("sort key %q not found", k.keys.SortKey.Name)
		}
		if err := encodeKeyValue(buf, sk, k.keys.SortKey.Kind); err != nil {
			return nil, fmt.Errorf("encode sort key %q: %w", k.keys.SortKey.Name, err)
		}
	}
	if tableKey != nil {
		buf.WriteByte(keySeparator)
		buf.Write(tableKey)
	}
	return buf.Bytes(), nil
}

// keyOf returns the key attributes of item.
func (k keyspace) keyOf(item Item) Item {
	out := Item{}
	for _, def := range []table.KeyDef{k.keys.PartitionKey, k.keys.SortKey} {
		if def.Name == "" {
			continue
		}
		if v, ok := item[def.Name]; ok {
			out[def.Name] = v
		}
	}
	return out
}

func encodeKeyValue(buf *bytes.Buffer, v types.AttributeValue, kind table.KeyKind) error {
	switch kind {
	case table.KeyKindS:
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return fmt.Errorf("expected S, got %T", v)
		}
		buf.WriteByte(keyTypeString)
		buf.Write(escapeBytes([]byte(s.Value)))
	case table.KeyKindN:
		n, ok := v.(*types.AttributeValueMemberN)
		if !ok {
			return fmt.Errorf("expected N, got %T", v)
		}
		encoded, err := encodeNumber(n.Value)
		if err != nil {
			return err
		}
		buf.WriteByte(keyTypeNumber)
		buf.Write(encoded)
	case table.KeyKindB:
		b, ok := v.(*types.AttributeValueMemberB)
		if !ok {
			return fmt.Errorf("expected B, got %T", v)
		}
		buf.WriteByte(keyTypeBinary)
		buf.Write(escapeBytes(b.Value))
	default:
		return fmt.Errorf("unsupported key kind: %s", kind)
	}
	return nil
}

// encodeNumber encodes a number string for lexicographic ordering.
// Format: [sign byte][magnitude bytes]
// Positive numbers: 0x80 + big-endian float64 with the sign bit flipped
// Negative numbers: 0x7F + big-endian float64 with all bits inverted
func encodeNumber(numStr string) ([]byte, error) {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", numStr, err)
	}

	bits := math.Float64bits(f)
	buf := make([]byte, 9)

	if f >= 0 {
		buf[0] = 0x80
		bits ^= (1 << 63)
	} else {
		buf[0] = 0x7F
		bits = ^bits
	}

	binary.BigEndian.PutUint64(buf[1:], bits)
	return escapeBytes(buf), nil
}

// escapeBytes escapes 0x00 and 0x01 so encoded values never contain the separator.
// 0x00 becomes 0x01 0x01, 0x01 becomes 0x01 0x02.
func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.WriteByte(0x01)
			buf.WriteByte(0x01)
		case 0x01:
			buf.WriteByte(0x01)
			buf.WriteByte(0x02)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// incrementBytes returns the smallest key greater than every key starting with b.
func incrementBytes(b []byte) []byte {
	result := bytes.Clone(b)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xFF {
			result[i]++
			return result[:i+1]
		}
	}
	return append(result, 0xFF)
}

// serializedAV is a gob-encodable representation of an AttributeValue.
type serializedAV struct {
	Type string
	S    string
	B    []byte
	Bool bool
	SS   []string
	BS   [][]byte
	L    []serializedAV
	M    map[string]serializedAV
}

func serializeItem(item Item) ([]byte, error) {
	m := make(map[string]serializedAV, len(item))
	for k, v := range item {
		sv, err := toSerialized(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		m[k] = sv
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeItem(data []byte) (Item, error) {
	var m map[string]serializedAV
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item := make(Item, len(m))
	for k, v := range m {
		item[k] = fromSerialized(v)
	}
	return item, nil
}

func toSerialized(av types.AttributeValue) (serializedAV, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return serializedAV{Type: "S", S: v.Value}, nil
	case *types.AttributeValueMemberN:
		return serializedAV{Type: "N", S: v.Value}, nil
	case *types.AttributeValueMemberB:
		return serializedAV{Type: "B", B: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return serializedAV{Type: "BOOL", Bool: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return serializedAV{Type: "NULL", Bool: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return serializedAV{Type: "SS", SS: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return serializedAV{Type: "NS", SS: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return serializedAV{Type: "BS", BS: v.Value}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]serializedAV, len(v.Value))
		for k, e := range v.Value {
			sv, err := toSerialized(e)
			if err != nil {
				return serializedAV{}, err
			}
			m[k] = sv
		}
		return serializedAV{Type: "M", M: m}, nil
	case *types.AttributeValueMemberL:
		l := make([]serializedAV, len(v.Value))
		for i, e := range v.Value {
			sv, err := toSerialized(e)
			if err != nil {
				return serializedAV{}, err
			}
			l[i] = sv
		}
		return serializedAV{Type: "L", L: l}, nil
	}
	return serializedAV{}, fmt.Errorf("unsupported attribute value type %T", av)
}

func fromSerialized(sv serializedAV) types.AttributeValue {
	switch sv.Type {
	case "S":
		return &types.AttributeValueMemberS{Value: sv.S}
	case "N":
		return &types.AttributeValueMemberN{Value: sv.S}
	case "B":
		return &types.AttributeValueMemberB{Value: sv.B}
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: sv.Bool}
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: sv.Bool}
	case "SS":
		return &types.AttributeValueMemberSS{Value: sv.SS}
	case "NS":
		return &types.AttributeValueMemberNS{Value: sv.SS}
	case "BS":
		return &types.AttributeValueMemberBS{Value: sv.BS}
	case "M":
		m := make(Item, len(sv.M))
		for k, e := range sv.M {
			m[k] = fromSerialized(e)
		}
		return &types.AttributeValueMemberM{Value: m}
	case "L":
		l := make([]types.AttributeValue, len(sv.L))
		for i, e := range sv.L {
			l[i] = fromSerialized(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	}
	return &types.AttributeValueMemberNULL{Value: true}
}
