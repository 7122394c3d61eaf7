package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeAlwaysStampsProtocolTag(t *testing.T) {
	data, err := EncodeRequest(&Request{ID: 1, Method: "$/ping"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, "2.0", raw["jsonrpc"])
}

func TestRequestRoundTrip(t *testing.T) {
	params, err := json.Marshal(map[string]string{"store_path": "/nix/store/abc"})
	require.NoError(t, err)

	req := &Request{ID: 42, Method: "$/download", Params: params}
	data, err := EncodeRequest(req)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindRequest, msg.Kind)
	require.Equal(t, req.ID, msg.Request.ID)
	require.Equal(t, req.Method, msg.Request.Method)
	require.JSONEq(t, string(params), string(msg.Request.Params))
}

func TestResponseRoundTripOK(t *testing.T) {
	result, err := json.Marshal("pong")
	require.NoError(t, err)

	resp := &Response{ID: 7, Result: result}
	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindResponse, msg.Kind)
	require.Equal(t, resp.ID, msg.Response.ID)
	require.Nil(t, msg.Response.Error)
	require.JSONEq(t, `"pong"`, string(msg.Response.Result))
}

func TestResponseRoundTripError(t *testing.T) {
	resp := &Response{ID: 7, Error: &Error{Code: MethodNotFound, Message: "nope"}}
	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindResponse, msg.Kind)
	require.Nil(t, msg.Response.Result)
	require.Equal(t, int32(MethodNotFound), msg.Response.Error.Code)
}

func TestNotificationRoundTrip(t *testing.T) {
	n := &Notification{Method: "$/log", Params: json.RawMessage(`{"line":"hi"}`)}
	data, err := EncodeNotification(n)
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindNotification, msg.Kind)
	require.Equal(t, n.Method, msg.Notification.Method)
}

func TestDecodeRejectsResponseMissingResultAndError(t *testing.T) {
	_, err := Decode([]byte(`{"jsonrpc":"2.0","id":3}`))
	require.Error(t, err)
	var pe *DecodeError
	require.ErrorAs(t, err, &pe)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
	var pe *DecodeError
	require.ErrorAs(t, err, &pe)
}

func TestDecodeIgnoresUnknownTopLevelFields(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"$/ping","extra":"field"}`))
	require.NoError(t, err)
	require.Equal(t, KindRequest, msg.Kind)
}
