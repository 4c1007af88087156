package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"iotpanel/device"
	"iotpanel/ledger"
	"iotpanel/message"
	"iotpanel/models"
)

func newTestServer(t *testing.T, messenger *fakeMessenger, registry *fakeRegistry) (*Server, *View) {
	t.Helper()

	view := NewView(messenger, registry, ViewOptions{})
	server, err := NewServer(view, ServerOptions{})
	require.NoError(t, err)
	return server, view
}

func do(t *testing.T, handler http.Handler, method, target string, body string, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})

	rec := do(t, server.Handler(), http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK\n", rec.Body.String())

	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	require.NoError(t, err)
}

func TestRequestIDIsEchoed(t *testing.T) {
	server, _ := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestIndexRendersState(t *testing.T) {
	server, view := newTestServer(t, &fakeMessenger{messages: []string{"<b>hi</b>"}}, &fakeRegistry{})
	require.NoError(t, view.Mount(context.Background()))
	view.SelectDevice("Sensor 2")

	rec := do(t, server.Handler(), http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, "&lt;b&gt;hi&lt;/b&gt;")
	require.Contains(t, body, "Sensor 3")
	require.Contains(t, body, "Sensor 2 Data")
	require.Equal(t, 10, strings.Count(body, "<rect "))
}

func TestSendFormRedirectsAndUpdatesStatus(t *testing.T) {
	messenger := &fakeMessenger{}
	server, view := newTestServer(t, messenger, &fakeRegistry{})
	form := url.Values{
		"recipient": {solana.NewWallet().PublicKey().String()},
		"content":   {"hello"},
	}

	rec := do(t, server.Handler(), http.MethodPost, "/messages", form.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))
	require.Equal(t, StatusMessageSent, view.Snapshot().Status)
	require.Len(t, messenger.sent, 1)
}

func TestSendFormInvalidRecipientShowsError(t *testing.T) {
	server, view := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})
	form := url.Values{"recipient": {"bogus!"}, "content": {"hello"}}

	rec := do(t, server.Handler(), http.MethodPost, "/messages", form.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(view.Snapshot().Status, "Error: "))

	page := do(t, server.Handler(), http.MethodGet, "/", "", "")
	require.Contains(t, page.Body.String(), `class="status error"`)
}

func TestRegisterAndSelectForms(t *testing.T) {
	registry := &fakeRegistry{}
	server, view := newTestServer(t, &fakeMessenger{}, registry)

	rec := do(t, server.Handler(), http.MethodPost, "/devices", url.Values{"type": {"thermo"}}.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, []string{"thermo"}, registry.registered)
	require.Equal(t, StatusDeviceRegistered, view.Snapshot().Status)

	rec = do(t, server.Handler(), http.MethodPost, "/devices/select", url.Values{"name": {"Sensor 1"}}.Encode(), "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "Sensor 1", view.Snapshot().SelectedDevice)
}

func TestAPISendMessage(t *testing.T) {
	server, _ := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})
	body := `{"recipient":"` + solana.NewWallet().PublicKey().String() + `","content":"hi"}`

	rec := do(t, server.Handler(), http.MethodPost, "/api/messages", body, "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp sendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, solana.Signature{8}.String(), resp.Signature)
	require.Equal(t, StatusMessageSent, resp.Status)
}

func TestAPIErrorsMapToStatusCodes(t *testing.T) {
	cases := []struct {
		name      string
		messenger *fakeMessenger
		body      string
		want      int
		wantKind  string
	}{
		{
			name:      "bad recipient",
			messenger: &fakeMessenger{},
			body:      `{"recipient":"???","content":"hi"}`,
			want:      http.StatusBadRequest,
			wantKind:  "validation",
		},
		{
			name:      "unknown field",
			messenger: &fakeMessenger{},
			body:      `{"to":"x"}`,
			want:      http.StatusBadRequest,
			wantKind:  "validation",
		},
		{
			name:      "not connected",
			messenger: &fakeMessenger{sendErr: ledger.Wrap(ledger.KindConnection, "send message", ledger.ErrNotConnected)},
			body:      `{"recipient":"` + solana.NewWallet().PublicKey().String() + `","content":"hi"}`,
			want:      http.StatusServiceUnavailable,
			wantKind:  "connection",
		},
		{
			name:      "rejected",
			messenger: &fakeMessenger{sendErr: ledger.Wrap(ledger.KindSubmission, "send message", errors.New("network down"))},
			body:      `{"recipient":"` + solana.NewWallet().PublicKey().String() + `","content":"hi"}`,
			want:      http.StatusBadGateway,
			wantKind:  "submission",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := newTestServer(t, tc.messenger, &fakeRegistry{})

			rec := do(t, server.Handler(), http.MethodPost, "/api/messages", tc.body, "application/json")
			require.Equal(t, tc.want, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.Equal(t, tc.wantKind, resp.Kind)
			require.NotEmpty(t, resp.Error)
		})
	}
}

func TestAPIListMessages(t *testing.T) {
	server, _ := newTestServer(t, &fakeMessenger{messages: []string{"x", "y"}}, &fakeRegistry{})

	rec := do(t, server.Handler(), http.MethodGet, "/api/messages", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var messages []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	require.Equal(t, []string{"x", "y"}, messages)
}

func TestAPIDevicesBySource(t *testing.T) {
	registry := &fakeRegistry{stored: []models.Device{{ID: "abc", Type: "thermo", Status: models.DeviceStatusActive}}}
	server, _ := newTestServer(t, &fakeMessenger{}, registry)

	rec := do(t, server.Handler(), http.MethodGet, "/api/devices", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var simulated devicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &simulated))
	require.Equal(t, DeviceSourceSimulated, simulated.Source)
	require.Equal(t, []string{"Sensor 1", "Sensor 2", "Sensor 3"}, simulated.Names)

	rec = do(t, server.Handler(), http.MethodGet, "/api/devices?source=ledger", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var onLedger devicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &onLedger))
	require.Len(t, onLedger.Devices, 1)
	require.Equal(t, "thermo", onLedger.Devices[0].Type)

	rec = do(t, server.Handler(), http.MethodGet, "/api/devices?source=serial", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPILedgerDevicesParseFailure(t *testing.T) {
	registry := &fakeRegistry{ledgerErr: ledger.Errorf(ledger.KindParse, "list devices", "decode account: bad json")}
	server, _ := newTestServer(t, &fakeMessenger{}, registry)

	rec := do(t, server.Handler(), http.MethodGet, "/api/devices?source=ledger", "", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPIRegisterDevice(t *testing.T) {
	server, _ := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})

	rec := do(t, server.Handler(), http.MethodPost, "/api/devices", `{"type":"hygro"}`, "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp registerDeviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hygro", resp.Device.Type)
	require.Equal(t, StatusDeviceRegistered, resp.Status)
}

func TestAPIUpdateAndDeactivateDevice(t *testing.T) {
	registry := &fakeRegistry{stored: []models.Device{{ID: "abc", Type: "thermo", Status: models.DeviceStatusActive}}}
	server, _ := newTestServer(t, &fakeMessenger{}, registry)

	rec := do(t, server.Handler(), http.MethodPut, "/api/devices/abc", `{"type":"hygro"}`, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var updated registerDeviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, "hygro", updated.Device.Type)
	require.Equal(t, StatusDeviceUpdated, updated.Status)

	rec = do(t, server.Handler(), http.MethodDelete, "/api/devices/abc", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var deactivated registerDeviceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deactivated))
	require.Equal(t, models.DeviceStatusInactive, deactivated.Device.Status)
	require.Equal(t, StatusDeviceDeactivated, deactivated.Status)

	rec = do(t, server.Handler(), http.MethodDelete, "/api/devices/missing", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Error, device.ErrUnknownDevice.Error())
}

func TestAPIMessageRecordsAndMarkRead(t *testing.T) {
	account := solana.NewWallet().PublicKey()
	messenger := &fakeMessenger{records: []message.Record{{
		Account: account,
		Message: models.Message{Sender: "a", Recipient: "b", Content: "hi", Timestamp: 7},
	}}}
	server, _ := newTestServer(t, messenger, &fakeRegistry{})

	rec := do(t, server.Handler(), http.MethodGet, "/api/messages/records", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []message.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	require.Equal(t, account, records[0].Account)
	require.Equal(t, "hi", records[0].Message.Content)

	rec = do(t, server.Handler(), http.MethodPost, "/api/messages/"+account.String()+"/read", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp markReadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, account.String(), resp.Account)
	require.Equal(t, StatusMessageRead, resp.Status)
	require.Equal(t, []solana.PublicKey{account}, messenger.marked)

	rec = do(t, server.Handler(), http.MethodPost, "/api/messages/not-a-key/read", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIWallet(t *testing.T) {
	wallet := &fakeWallet{summary: ledger.WalletSummary{
		Signer:   "payer",
		Lamports: 42,
		Activity: []ledger.Activity{{Signature: "sig-1", Slot: 3, Memo: "hello"}},
	}}
	view := NewView(&fakeMessenger{}, &fakeRegistry{}, ViewOptions{Wallet: wallet})
	server, err := NewServer(view, ServerOptions{})
	require.NoError(t, err)

	rec := do(t, server.Handler(), http.MethodGet, "/api/wallet", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary ledger.WalletSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Equal(t, wallet.summary, summary)

	page := do(t, server.Handler(), http.MethodGet, "/", "", "")
	require.Contains(t, page.Body.String(), "payer: 42 lamports")
	require.Contains(t, page.Body.String(), "sig-1 (hello)")

	unconfigured, _ := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})
	rec = do(t, unconfigured.Handler(), http.MethodGet, "/api/wallet", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPISeries(t *testing.T) {
	server, view := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})

	rec := do(t, server.Handler(), http.MethodGet, "/api/devices/Sensor%201/series", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var series models.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Equal(t, "Sensor 1 Data", series.Label)
	require.Len(t, series.Points, 10)
	require.Equal(t, "Sensor 1", view.Snapshot().SelectedDevice)
}

func TestAPIState(t *testing.T) {
	server, view := newTestServer(t, &fakeMessenger{messages: []string{"m"}}, &fakeRegistry{})
	require.NoError(t, view.Mount(context.Background()))

	rec := do(t, server.Handler(), http.MethodGet, "/api/state", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.True(t, state.Mounted)
	require.Equal(t, []string{"m"}, state.Messages)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	server, _ := newTestServer(t, &fakeMessenger{}, &fakeRegistry{})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
