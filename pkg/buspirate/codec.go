// pkg/buspirate/codec.go
package buspirate

import (
	"context"
	"fmt"

	"buspirate-host/internal/bpio"
)

// dataRequest is one DataRequest. start_main, bytes_read and stop_main are
// always written; start_alt and data_write only when set.
type dataRequest struct {
	startMain bool
	startAlt  bool
	write     []byte
	bytesRead uint16
	stopMain  bool
}

func (r dataRequest) fields() []bpio.Field {
	fields := []bpio.Field{{Name: "start_main", Value: r.startMain}}
	if r.startAlt {
		fields = append(fields, bpio.Field{Name: "start_alt", Value: true})
	}
	if len(r.write) > 0 {
		fields = append(fields, bpio.Field{Name: "data_write", Value: r.write})
	}
	return append(fields,
		bpio.Field{Name: "bytes_read", Value: r.bytesRead},
		bpio.Field{Name: "stop_main", Value: r.stopMain},
	)
}

// stopRequest releases the bus: no start, stop, nothing read.
var stopRequest = dataRequest{stopMain: true}

// withAddress returns address followed by payload.
func withAddress(address byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, address)
	return append(out, payload...)
}

func (c *conn) exchange(ctx context.Context, kind bpio.RequestKind, fields []bpio.Field) (*bpio.ResponsePacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload, err := bpio.EncodeRequest(kind, fields)
	if err != nil {
		return nil, &SchemaError{Err: err}
	}
	frame, err := c.t.send(payload)
	if err != nil {
		return nil, err
	}
	pkt, err := bpio.DecodeResponse(frame)
	if err != nil {
		return nil, &SchemaError{Err: err}
	}
	if err := checkResponse(pkt, expectedResponse(kind)); err != nil {
		return nil, err
	}
	return pkt, nil
}

func (c *conn) configure(ctx context.Context, fields []bpio.Field) error {
	_, err := c.exchange(ctx, bpio.RequestConfiguration, fields)
	return err
}

// data sends one DataRequest and returns data_read, which may be nil.
func (c *conn) data(ctx context.Context, req dataRequest) ([]byte, error) {
	pkt, err := c.exchange(ctx, bpio.RequestData, req.fields())
	if err != nil {
		return nil, err
	}
	return pkt.DataRead(), nil
}

func expectedResponse(kind bpio.RequestKind) bpio.ResponseKind {
	switch kind {
	case bpio.RequestConfiguration:
		return bpio.ResponseConfiguration
	case bpio.RequestData:
		return bpio.ResponseData
	case bpio.RequestStatus:
		return bpio.ResponseStatus
	default:
		return bpio.ResponseNone
	}
}

// checkResponse maps a decoded packet onto the error taxonomy.
func checkResponse(pkt *bpio.ResponsePacket, want bpio.ResponseKind) error {
	if pkt.HasError {
		return &DeviceError{Message: pkt.Error}
	}
	switch pkt.Kind {
	case want:
		if msg, ok := pkt.Message(); ok {
			return &DeviceError{Message: msg}
		}
		return nil
	case bpio.ResponseError:
		msg, _ := pkt.Message()
		return &DeviceError{Message: msg}
	default:
		return &ProtocolMismatchError{Expected: want.String(), Actual: pkt.Kind.String()}
	}
}

// copyRead copies received data into buf. An empty buf accepts anything.
func copyRead(data, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if len(data) == 0 {
		return ErrNoDataReceived
	}
	if len(data) < len(buf) {
		return fmt.Errorf("%w: got %d of %d bytes", ErrNoDataReceived, len(data), len(buf))
	}
	copy(buf, data)
	return nil
}
