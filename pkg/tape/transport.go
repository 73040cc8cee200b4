package tape

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hansl/specification/pkg/identity"
	"github.com/hansl/specification/pkg/protocol"
)

// RecordingTransport records every exchange made through inner.
type RecordingTransport struct {
	inner    protocol.Transport
	rec      *Recorder
	scenario string
}

func NewRecordingTransport(inner protocol.Transport, rec *Recorder, scenario string) *RecordingTransport {
	return &RecordingTransport{inner: inner, rec: rec, scenario: scenario}
}

func (t *RecordingTransport) Send(ctx context.Context, id identity.Identity, req *protocol.RequestMessage) (*protocol.ResponseMessage, error) {
	raw, err := protocol.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := t.inner.Send(ctx, id, req)
	if err != nil {
		return nil, err
	}
	out, err := protocol.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	t.rec.RecordRequest(t.scenario, req.Method, raw)
	t.rec.RecordResponse(t.scenario, req.Method, out)
	return resp, nil
}

// ReplayTransport answers requests from a tape instead of a server. A
// request must match the recorded one in method and data.
type ReplayTransport struct {
	r        *Replayer
	scenario string
}

// Transport returns a ReplayTransport for scenario.
func (r *Replayer) Transport(scenario string) *ReplayTransport {
	return &ReplayTransport{r: r, scenario: scenario}
}

func (t *ReplayTransport) Send(_ context.Context, _ identity.Identity, req *protocol.RequestMessage) (*protocol.ResponseMessage, error) {
	reqEntry, respEntry, err := t.r.NextExchange(t.scenario)
	if err != nil {
		return nil, err
	}
	recorded, err := protocol.DecodeRequest(reqEntry.Value)
	if err != nil {
		return nil, fmt.Errorf("tape seq=%d: %w", reqEntry.Seq, err)
	}
	if recorded.Method != req.Method || !bytes.Equal(recorded.Data, req.Data) {
		return nil, fmt.Errorf("REPLAY_TAPE_MISS: scenario %q seq=%d: request %s does not match taped %s",
			t.scenario, reqEntry.Seq, req.Method, recorded.Method)
	}
	resp, err := protocol.DecodeResponse(respEntry.Value)
	if err != nil {
		return nil, fmt.Errorf("tape seq=%d: %w", respEntry.Seq, err)
	}
	resp.ID = req.ID
	return resp, nil
}
