package msg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire header layout (spec §6): 1-byte length (total bytes including this
// header), 1-byte type, 2 bytes padding, 4-byte source, 4-byte destination,
// 4 bytes padding, followed by a type-specific payload. Cross-kind padding
// bytes exist only for wire alignment in the original C struct layout and
// are reproduced bit-for-bit: always zero on encode, always ignored on
// decode.
const headerSize = 16

// routeWireSize is the encoded size of a Route on the wire: u32 id, 4-byte
// prev, 4-byte next, i8 position, i8 requestedPosition, 2 bytes padding.
const routeWireSize = 16

// ErrTooLarge signals a message whose encoded size exceeds the 1-byte
// length field (255 bytes total, matching COMMBUFFERSIZE's sizing in §6).
var ErrTooLarge = errors.New("msg: encoded message exceeds 255 bytes")

// ErrMalformed signals a decode failure: truncated payload, bad variant
// discriminant, or a Kind with no known wire payload shape.
var ErrMalformed = errors.New("msg: malformed wire message")

// Codec encodes and decodes Messages using one reusable buffer, following
// the teacher's buffer-reuse convention for framed codecs. A Codec is not
// safe for concurrent use; CommRx and CommTx each own one.
type Codec struct {
	buf [255]byte
}

// Encode writes m to w in wire form. It returns ErrTooLarge if the encoded
// message would exceed 255 bytes.
func (c *Codec) Encode(w io.Writer, m Message) error {
	payload, err := marshalPayload(m.Type, m.Payload)
	if err != nil {
		return err
	}
	total := headerSize + len(payload)
	if total > 255 {
		return ErrTooLarge
	}

	buf := c.buf[:total]
	buf[0] = byte(total)
	buf[1] = byte(m.Type)
	buf[2], buf[3] = 0, 0
	copy(buf[4:8], m.Source[:])
	copy(buf[8:12], m.Dest[:])
	buf[12], buf[13], buf[14], buf[15] = 0, 0, 0, 0
	copy(buf[headerSize:], payload)

	_, err = w.Write(buf)
	return err
}

// Decode reads one message from r in wire form.
func (c *Codec) Decode(r io.Reader) (Message, error) {
	if _, err := io.ReadFull(r, c.buf[:1]); err != nil {
		return Message{}, err
	}
	total := int(c.buf[0])
	if total < headerSize {
		return Message{}, fmt.Errorf("%w: length %d shorter than header", ErrMalformed, total)
	}

	if _, err := io.ReadFull(r, c.buf[1:total]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	buf := c.buf[:total]
	m := Message{Type: Kind(buf[1])}
	copy(m.Source[:], buf[4:8])
	copy(m.Dest[:], buf[8:12])

	payload, err := unmarshalPayload(m.Type, buf[headerSize:])
	if err != nil {
		return Message{}, err
	}
	m.Payload = payload
	return m, nil
}

func marshalPayload(kind Kind, p Payload) ([]byte, error) {
	switch kind {
	case NodeReset, LogReq, LogDel, LogDelAck, DiagErrTask, PointMalfunc:
		return nil, nil

	case NodeConfig:
		cfg, ok := p.(NodeConfigPayload)
		if !ok {
			return nil, fmt.Errorf("%w: NodeConfig needs NodeConfigPayload", ErrMalformed)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:4], cfg.Sequence)
		binary.LittleEndian.PutUint32(buf[4:8], cfg.TotalSegments)
		if cfg.Sequence == 0 {
			if cfg.Type == nil {
				return nil, fmt.Errorf("%w: NodeConfig sequence 0 needs Type", ErrMalformed)
			}
			buf = append(buf, byte(cfg.Type.NodeType))
		} else {
			if cfg.Route == nil {
				return nil, fmt.Errorf("%w: NodeConfig sequence>0 needs Route", ErrMalformed)
			}
			buf = append(buf, marshalRoute(*cfg.Route)...)
		}
		return buf, nil

	case RouteReq, RouteAck, RouteNack, RouteCommit, RouteAgree, RouteDisagree, RouteTrainOK, RouteTrainNOK:
		rp, ok := p.(RouteIDPayload)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs RouteIDPayload", ErrMalformed, kind)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, rp.RouteID)
		return buf, nil

	case LogSend:
		lp, ok := p.(LogSendPayload)
		if !ok {
			return nil, fmt.Errorf("%w: LogSend needs LogSendPayload", ErrMalformed)
		}
		return marshalLogSend(lp), nil

	case DiagErrComm:
		np, ok := p.(NodePayload)
		if !ok {
			return nil, fmt.Errorf("%w: DiagErrComm needs NodePayload", ErrMalformed)
		}
		return append([]byte(nil), np.Node[:]...), nil

	default:
		return nil, fmt.Errorf("%w: kind %s has no wire payload", ErrMalformed, kind)
	}
}

func unmarshalPayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case NodeReset, LogReq, LogDel, LogDelAck, DiagErrTask, PointMalfunc:
		return nil, nil

	case NodeConfig:
		if len(data) < 8 {
			return nil, fmt.Errorf("%w: NodeConfig payload too short", ErrMalformed)
		}
		seq := binary.LittleEndian.Uint32(data[0:4])
		total := binary.LittleEndian.Uint32(data[4:8])
		cfg := NodeConfigPayload{Sequence: seq, TotalSegments: total}
		if seq == 0 {
			if len(data) < 9 {
				return nil, fmt.Errorf("%w: NodeConfig config-type payload too short", ErrMalformed)
			}
			cfg.Type = &ConfigType{
				NodeType:      NodeType(data[8]),
				TotalSegments: total,
			}
		} else {
			if len(data) < 8+routeWireSize {
				return nil, fmt.Errorf("%w: NodeConfig route payload too short", ErrMalformed)
			}
			r := unmarshalRoute(data[8 : 8+routeWireSize])
			cfg.Route = &r
		}
		return cfg, nil

	case RouteReq, RouteAck, RouteNack, RouteCommit, RouteAgree, RouteDisagree, RouteTrainOK, RouteTrainNOK:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: %s payload too short", ErrMalformed, kind)
		}
		return RouteIDPayload{RouteID: binary.LittleEndian.Uint32(data)}, nil

	case LogSend:
		return unmarshalLogSend(data)

	case DiagErrComm:
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: DiagErrComm payload too short", ErrMalformed)
		}
		var np NodePayload
		copy(np.Node[:], data[:4])
		return np, nil

	default:
		return nil, fmt.Errorf("%w: kind %s has no wire payload", ErrMalformed, kind)
	}
}

// marshalRoute encodes a Route in its wire form: u32 id, 4-byte prev,
// 4-byte next, i8 position, i8 requestedPosition, 2 bytes padding.
func marshalRoute(r Route) []byte {
	buf := make([]byte, routeWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.ID)
	copy(buf[4:8], r.Prev[:])
	copy(buf[8:12], r.Next[:])
	buf[12] = byte(r.Position)
	buf[13] = byte(r.RequestedPosition)
	buf[14], buf[15] = 0, 0
	return buf
}

func unmarshalRoute(data []byte) Route {
	var r Route
	r.ID = binary.LittleEndian.Uint32(data[0:4])
	copy(r.Prev[:], data[4:8])
	copy(r.Next[:], data[8:12])
	r.Position = Position(int8(data[12]))
	r.RequestedPosition = RequestedPosition(data[13])
	return r
}

// logRecordWireSize: 8-byte timestamp (unix nanoseconds), 1-byte kind, 3
// bytes padding, 4-byte route id, 4-byte source node.
const logRecordWireSize = 20

func marshalLogSend(lp LogSendPayload) []byte {
	buf := make([]byte, 8+logRecordWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], lp.Current)
	binary.LittleEndian.PutUint32(buf[4:8], lp.Total)
	rec := buf[8:]
	binary.LittleEndian.PutUint64(rec[0:8], uint64(lp.Record.Timestamp.UnixNano()))
	rec[8] = byte(lp.Record.Kind)
	rec[9], rec[10], rec[11] = 0, 0, 0
	binary.LittleEndian.PutUint32(rec[12:16], lp.Record.RouteID)
	copy(rec[16:20], lp.Record.SourceNode[:])
	return buf
}

func unmarshalLogSend(data []byte) (Payload, error) {
	if len(data) < 8+logRecordWireSize {
		return nil, fmt.Errorf("%w: LogSend payload too short", ErrMalformed)
	}
	lp := LogSendPayload{
		Current: binary.LittleEndian.Uint32(data[0:4]),
		Total:   binary.LittleEndian.Uint32(data[4:8]),
	}
	rec := data[8:]
	lp.Record.Timestamp = unixNano(binary.LittleEndian.Uint64(rec[0:8]))
	lp.Record.Kind = LogRecordKind(rec[8])
	lp.Record.RouteID = binary.LittleEndian.Uint32(rec[12:16])
	copy(lp.Record.SourceNode[:], rec[16:20])
	return lp, nil
}
