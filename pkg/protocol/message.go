// Package protocol defines the request and response messages exchanged with a
// ledger server, the signed envelope that carries them, and the HTTP
// transport used to deliver them.
package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/hansl/specification/pkg/address"
	"github.com/hansl/specification/pkg/diag"
)

// Version is the protocol version written into every message.
const Version = 1

// RequestMessage asks the server at To to run Method with Data.
type RequestMessage struct {
	Version   uint8           `cbor:"0,keyasint,omitempty"`
	From      address.Address `cbor:"1,keyasint"`
	To        address.Address `cbor:"2,keyasint"`
	Method    string          `cbor:"3,keyasint"`
	Data      []byte          `cbor:"4,keyasint,omitempty"`
	Timestamp int64           `cbor:"5,keyasint,omitempty"`
	ID        []byte          `cbor:"6,keyasint,omitempty"`
}

// ResponseMessage carries either Data or Error, never both.
type ResponseMessage struct {
	Version   uint8
	From      address.Address
	To        address.Address
	Data      []byte
	Error     *RemoteError
	Timestamp int64
	ID        []byte
}

type wireResponse struct {
	Version   uint8           `cbor:"0,keyasint,omitempty"`
	From      address.Address `cbor:"1,keyasint"`
	To        address.Address `cbor:"2,keyasint"`
	Data      cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	Timestamp int64           `cbor:"5,keyasint,omitempty"`
	ID        []byte          `cbor:"6,keyasint,omitempty"`
}

// RemoteError is an error reported by the server. Message may reference
// Arguments as {name}.
type RemoteError struct {
	Code      int64             `cbor:"0,keyasint"`
	Message   string            `cbor:"1,keyasint,omitempty"`
	Arguments map[string]string `cbor:"2,keyasint,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Text())
}

// Text returns Message with every {name} replaced by its argument.
func (e *RemoteError) Text() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Arguments))
	for k := range e.Arguments {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]string, 0, 2*len(names))
	for _, k := range names {
		pairs = append(pairs, "{"+k+"}", e.Arguments[k])
	}
	return strings.NewReplacer(pairs...).Replace(e.Message)
}

// Result returns Data, or the remote error if the server reported one.
func (r *ResponseMessage) Result() ([]byte, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	return r.Data, nil
}

// MarshalCBOR writes Data as a byte string under key 4, or Error as a map
// under the same key.
func (r ResponseMessage) MarshalCBOR() ([]byte, error) {
	w := wireResponse{
		Version:   r.Version,
		From:      r.From,
		To:        r.To,
		Timestamp: r.Timestamp,
		ID:        r.ID,
	}
	var err error
	switch {
	case r.Error != nil:
		w.Data, err = diag.Marshal(r.Error)
	case r.Data != nil:
		w.Data, err = diag.Marshal(r.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: encode response body: %w", err)
	}
	return diag.Marshal(w)
}

func (r *ResponseMessage) UnmarshalCBOR(data []byte) error {
	var w wireResponse
	if err := diag.DecMode().Unmarshal(data, &w); err != nil {
		return err
	}
	*r = ResponseMessage{
		Version:   w.Version,
		From:      w.From,
		To:        w.To,
		Timestamp: w.Timestamp,
		ID:        w.ID,
	}
	if len(w.Data) == 0 {
		return nil
	}
	switch major := w.Data[0] >> 5; major {
	case 2: // byte string
		return diag.DecMode().Unmarshal(w.Data, &r.Data)
	case 5: // map
		var re RemoteError
		if err := diag.DecMode().Unmarshal(w.Data, &re); err != nil {
			return fmt.Errorf("protocol: decode remote error: %w", err)
		}
		r.Error = &re
		return nil
	default:
		return fmt.Errorf("protocol: response body has major type %d, want byte string or map", major)
	}
}

// EncodeRequest returns the deterministic encoding of req.
func EncodeRequest(req *RequestMessage) ([]byte, error) {
	b, err := diag.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode request: %w", err)
	}
	return b, nil
}

func DecodeRequest(data []byte) (*RequestMessage, error) {
	var req RequestMessage
	if err := diag.DecMode().Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("protocol: decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse returns the deterministic encoding of resp.
func EncodeResponse(resp *ResponseMessage) ([]byte, error) {
	b, err := diag.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode response: %w", err)
	}
	return b, nil
}

func DecodeResponse(data []byte) (*ResponseMessage, error) {
	var resp ResponseMessage
	if err := diag.DecMode().Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("protocol: decode response: %w", err)
	}
	return &resp, nil
}
