package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventHelpers(t *testing.T) {
	evt := &Event{Type: "presale.purchased", Attributes: map[string]string{"tokens": "5", "payer": "0x01"}}
	require.Equal(t, []string{"payer", "tokens"}, evt.Keys())
	require.Equal(t, "5", evt.Attribute("tokens"))
	require.Equal(t, "", evt.Attribute("missing"))

	clone := evt.Clone()
	clone.Attributes["tokens"] = "6"
	require.Equal(t, "5", evt.Attribute("tokens"))

	var nilEvent *Event
	require.Nil(t, nilEvent.Clone())
	require.Nil(t, nilEvent.Keys())
	require.Equal(t, "", nilEvent.Attribute("x"))
}
