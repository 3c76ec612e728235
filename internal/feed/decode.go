package feed

import (
	"encoding/json"
	"time"

	"tradebotv1/internal/model"
)

// wireEvent is one element of the feed's JSON array frames. Bar events
// carry OHLCV plus the bar start in epoch milliseconds; status events
// carry status/message instead.
type wireEvent struct {
	Ev      string  `json:"ev"`
	Sym     string  `json:"sym"`
	Open    float64 `json:"o"`
	High    float64 `json:"h"`
	Low     float64 `json:"l"`
	Close   float64 `json:"c"`
	Volume  float64 `json:"v"`
	StartMS int64   `json:"s"`

	Status  string `json:"status"`
	Message string `json:"message"`
}

// decodeFrame parses one websocket frame into bars and status events.
// Frames are JSON arrays; unknown event kinds are ignored. A frame that
// is not valid JSON yields a *DecodeError.
func decodeFrame(data []byte) ([]model.Bar, []wireEvent, error) {
	var events []wireEvent
	if err := json.Unmarshal(data, &events); err != nil {
		// Some providers send bare objects for control messages.
		var single wireEvent
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, nil, &DecodeError{Err: err}
		}
		events = []wireEvent{single}
	}

	var bars []model.Bar
	var statuses []wireEvent
	for _, ev := range events {
		switch ev.Ev {
		case string(model.KindSecondBar), string(model.KindMinuteBar):
			if ev.Sym == "" {
				continue
			}
			bars = append(bars, model.Bar{
				Symbol: ev.Sym,
				Kind:   model.EventKind(ev.Ev),
				Open:   ev.Open,
				High:   ev.High,
				Low:    ev.Low,
				Close:  ev.Close,
				Volume: ev.Volume,
				TS:     time.Unix(0, ev.StartMS*int64(time.Millisecond)).UTC(),
			})
		case "status":
			statuses = append(statuses, ev)
		}
	}
	return bars, statuses, nil
}
