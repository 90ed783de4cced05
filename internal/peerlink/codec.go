package peerlink

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/rmacdonaldsmith/meshroute/pkg/hashing"
	"github.com/rmacdonaldsmith/meshroute/pkg/membership"
	"github.com/rmacdonaldsmith/meshroute/pkg/routingtable"
)

// The messages below use the protobuf wire format so that any protobuf
// runtime can speak the FilterSync service:
//
//	message Pattern  { uint64 id = 1; repeated uint32 plus_levels = 2; uint32 hash_level = 3; uint32 len = 4; }
//	message Envelope { string origin = 1; uint32 kind = 2; string peer_id = 3; bool wildcard = 4;
//	                   uint32 hash_type = 5; uint32 num_hash_values = 6; bytes filter = 7;
//	                   repeated sint32 codes = 8; Pattern pattern = 9; bool enabled = 10; }
//	message Ack       { bool applied = 1; }
//	message Heartbeat { string node_id = 1; int64 sent_unix_nano = 2; }

// envelope is the Apply request: one membership event and the node that sent
// it.
type envelope struct {
	Origin string
	Event  membership.Event
}

type ack struct {
	Applied bool
}

type heartbeat struct {
	NodeID       string
	SentUnixNano int64
}

// wireCodec is the gRPC codec for the FilterSync messages.
type wireCodec struct{}

const codecName = "meshroute-wire"

func (wireCodec) Name() string { return codecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *envelope:
		return m.appendTo(nil), nil
	case *ack:
		return m.appendTo(nil), nil
	case *heartbeat:
		return m.appendTo(nil), nil
	default:
		return nil, fmt.Errorf("%s: cannot marshal %T", codecName, v)
	}
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *envelope:
		return m.decode(data)
	case *ack:
		return m.decode(data)
	case *heartbeat:
		return m.decode(data)
	default:
		return fmt.Errorf("%s: cannot unmarshal into %T", codecName, v)
	}
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func (e *envelope) appendTo(b []byte) []byte {
	ev := &e.Event
	b = appendBytesField(b, 1, []byte(e.Origin))
	b = appendVarintField(b, 2, uint64(ev.Kind))
	b = appendBytesField(b, 3, []byte(ev.PeerID))
	b = appendVarintField(b, 4, boolVarint(ev.Wildcard))
	b = appendVarintField(b, 5, uint64(ev.Hash.Type))
	b = appendVarintField(b, 6, uint64(ev.Hash.NumHashValues))
	b = appendBytesField(b, 7, ev.Filter)
	if len(ev.Codes) > 0 {
		var packed []byte
		for _, c := range ev.Codes {
			packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(c)))
		}
		b = appendBytesField(b, 8, packed)
	}
	if p := appendPattern(nil, &ev.Pattern); len(p) > 0 {
		b = appendBytesField(b, 9, p)
	}
	return appendVarintField(b, 10, boolVarint(ev.Enabled))
}

func appendPattern(b []byte, p *routingtable.Pattern) []byte {
	b = appendVarintField(b, 1, p.ID)
	if len(p.PlusLevels) > 0 {
		var packed []byte
		for _, lvl := range p.PlusLevels {
			packed = protowire.AppendVarint(packed, uint64(lvl))
		}
		b = appendBytesField(b, 2, packed)
	}
	b = appendVarintField(b, 3, uint64(p.HashLevel))
	return appendVarintField(b, 4, uint64(p.Len))
}

// field walks the fields of a message, calling fn for each. fn returns the
// number of bytes it consumed from the value, or a negative protowire error
// code; returning 0 skips the field.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// varint consumes a varint value of field typ into dst.
func varint(typ protowire.Type, b []byte, dst func(uint64)) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		dst(v)
	}
	return n
}

// bytesField consumes a length-delimited value of field typ into dst.
func bytesField(typ protowire.Type, b []byte, dst func([]byte) error) (int, error) {
	if typ != protowire.BytesType {
		return 0, nil
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	return n, dst(v)
}

func (e *envelope) decode(b []byte) error {
	*e = envelope{}
	ev := &e.Event
	var inner error
	err := fields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			n, err := bytesField(typ, b, func(v []byte) error { e.Origin = string(v); return nil })
			inner = firstErr(inner, err)
			return n
		case 2:
			return varint(typ, b, func(v uint64) { ev.Kind = membership.Kind(v) })
		case 3:
			n, err := bytesField(typ, b, func(v []byte) error { ev.PeerID = string(v); return nil })
			inner = firstErr(inner, err)
			return n
		case 4:
			return varint(typ, b, func(v uint64) { ev.Wildcard = v != 0 })
		case 5:
			return varint(typ, b, func(v uint64) { ev.Hash.Type = hashing.HashType(v) })
		case 6:
			return varint(typ, b, func(v uint64) { ev.Hash.NumHashValues = uint32(v) })
		case 7:
			// The transport reuses its receive buffer once decoding returns.
			n, err := bytesField(typ, b, func(v []byte) error { ev.Filter = bytes.Clone(v); return nil })
			inner = firstErr(inner, err)
			return n
		case 8:
			n, err := bytesField(typ, b, func(v []byte) error {
				for len(v) > 0 {
					c, m := protowire.ConsumeVarint(v)
					if m < 0 {
						return protowire.ParseError(m)
					}
					ev.Codes = append(ev.Codes, int32(protowire.DecodeZigZag(c)))
					v = v[m:]
				}
				return nil
			})
			inner = firstErr(inner, err)
			return n
		case 9:
			n, err := bytesField(typ, b, func(v []byte) error { return decodePattern(v, &ev.Pattern) })
			inner = firstErr(inner, err)
			return n
		case 10:
			return varint(typ, b, func(v uint64) { ev.Enabled = v != 0 })
		}
		return 0
	})
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if inner != nil {
		return fmt.Errorf("decode envelope: %w", inner)
	}
	return nil
}

func decodePattern(b []byte, p *routingtable.Pattern) error {
	var inner error
	err := fields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return varint(typ, b, func(v uint64) { p.ID = v })
		case 2:
			n, err := bytesField(typ, b, func(v []byte) error {
				for len(v) > 0 {
					lvl, m := protowire.ConsumeVarint(v)
					if m < 0 {
						return protowire.ParseError(m)
					}
					p.PlusLevels = append(p.PlusLevels, uint16(lvl))
					v = v[m:]
				}
				return nil
			})
			inner = firstErr(inner, err)
			return n
		case 3:
			return varint(typ, b, func(v uint64) { p.HashLevel = uint16(v) })
		case 4:
			return varint(typ, b, func(v uint64) { p.Len = uint16(v) })
		}
		return 0
	})
	if err != nil {
		return err
	}
	return inner
}

func (a *ack) appendTo(b []byte) []byte {
	return appendVarintField(b, 1, boolVarint(a.Applied))
}

func (a *ack) decode(b []byte) error {
	*a = ack{}
	return fields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return varint(typ, b, func(v uint64) { a.Applied = v != 0 })
		}
		return 0
	})
}

func (h *heartbeat) appendTo(b []byte) []byte {
	b = appendBytesField(b, 1, []byte(h.NodeID))
	return appendVarintField(b, 2, uint64(h.SentUnixNano))
}

func (h *heartbeat) decode(b []byte) error {
	*h = heartbeat{}
	var inner error
	err := fields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			n, err := bytesField(typ, b, func(v []byte) error { h.NodeID = string(v); return nil })
			inner = firstErr(inner, err)
			return n
		case 2:
			return varint(typ, b, func(v uint64) { h.SentUnixNano = int64(v) })
		}
		return 0
	})
	if err != nil {
		return err
	}
	return inner
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
