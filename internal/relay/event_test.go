package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr bool
	}{
		{
			name:  "price update",
			input: `{"kind":"price_update","payload":{"sku":"X","price":10}}`,
			want:  Event{Kind: KindPriceUpdate, Payload: json.RawMessage(`{"sku":"X","price":10}`)},
		},
		{
			name:  "missing payload is null",
			input: `{"kind":"market_alert"}`,
			want:  Event{Kind: KindMarketAlert, Payload: json.RawMessage(`null`)},
		},
		{
			name:  "scalar payload",
			input: `{"kind":"order_status_update","payload":"shipped"}`,
			want:  Event{Kind: KindOrderStatusUpdate, Payload: json.RawMessage(`"shipped"`)},
		},
		{name: "missing kind", input: `{"payload":{}}`, wantErr: true},
		{name: "unknown kind", input: `{"kind":"inventory_sync","payload":{}}`, wantErr: true},
		{name: "not json", input: `price_update`, wantErr: true},
		{name: "kind wrong type", input: `{"kind":7}`, wantErr: true},
		{name: "array", input: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedEvent))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventExposesValidationErrors(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"kind":"nope"}`))

	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "kind", verrs[0].Field())
	assert.Equal(t, "oneof", verrs[0].Tag())
}

func TestEventRoundTripsAsEnvelope(t *testing.T) {
	ev := NewEvent(KindArbitrageOpportunity, []byte(`{"market":"US","net_profit":1000}`))

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"arbitrage_opportunity","payload":{"market":"US","net_profit":1000}}`, string(data))

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev.Kind, back.Kind)
	assert.JSONEq(t, string(ev.Payload), string(back.Payload))
}

func TestEventZeroPayloadMarshalsNull(t *testing.T) {
	data, err := json.Marshal(Event{Kind: KindMarketAlert})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"market_alert","payload":null}`, string(data))
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds() {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("PRICE_UPDATE").Valid())
	assert.Len(t, Kinds(), 4)
}

func TestNewEventCopiesPayload(t *testing.T) {
	buf := []byte(`{"a":1}`)
	ev := NewEvent(KindPriceUpdate, buf)
	buf[2] = 'b'

	assert.Equal(t, `{"a":1}`, string(ev.Payload))
}
