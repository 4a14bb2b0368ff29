package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"daopresale/core/types"
)

type payloadEvent struct{ evt *types.Event }

func (p payloadEvent) EventType() string { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

type countingEmitter struct{ seen []string }

func (c *countingEmitter) Emit(evt Event) { c.seen = append(c.seen, evt.EventType()) }

func TestMultiEmitterFansOut(t *testing.T) {
	first, second := &countingEmitter{}, &countingEmitter{}
	multi := MultiEmitter{first, nil, second}
	multi.Emit(payloadEvent{evt: &types.Event{Type: "presale.purchased"}})
	require.Equal(t, []string{"presale.purchased"}, first.seen)
	require.Equal(t, []string{"presale.purchased"}, second.seen)
}

func TestLogEmitterWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	emitter := LogEmitter{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	emitter.Emit(payloadEvent{evt: &types.Event{
		Type:       "presale.affiliate.bound",
		Attributes: map[string]string{"payer": "0x01", "affiliate": "0x02"},
	}})
	emitter.Emit(nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "presale.affiliate.bound", line["event"])
	require.Equal(t, "0x01", line["payer"])
	require.Equal(t, "0x02", line["affiliate"])
}
