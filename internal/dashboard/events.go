package dashboard

import (
	"encoding/json"

	"spotflow/internal/appstate"
)

// encodeMessage serializes one appstate.UIMessage into the wire frame sent
// to a UI client: {"type": "SET_<FIELD>", "payload": value}. This is the
// entirety of the push vocabulary — unlike a market-making dashboard's
// open-ended fill/order/position event stream, every message here is one
// of the eight SET_<FIELD> scalars trading_bot/state.py writes.
func encodeMessage(msg appstate.UIMessage) ([]byte, error) {
	return json.Marshal(msg)
}
