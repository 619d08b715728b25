package angel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"intraday-signals/config"
)

const testSecret = "JBSWY3DPEHPK3PXP"

var ist = time.FixedZone("IST", 5*3600+1800)

type fakeAPI struct {
	logins      atomic.Int32
	quoteCalls  atomic.Int32
	rejectFirst bool // reject the first quote call with an expired token
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(routeLogin, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["clientcode"] != "C123" || len(body["totp"]) != 6 {
			w.Write([]byte(`{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`))
			return
		}
		n := f.logins.Add(1)
		w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":{"jwtToken":"jwt-` + string(rune('0'+n)) + `"}}`))
	})
	mux.HandleFunc(routeQuote, func(w http.ResponseWriter, r *http.Request) {
		n := f.quoteCalls.Add(1)
		if f.rejectFirst && n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"status":false,"message":"Invalid Token","errorcode":"AG8001","data":null}`))
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer jwt-") {
			t.Errorf("missing bearer token: %q", r.Header.Get("Authorization"))
		}
		var body struct {
			Mode           string              `json:"mode"`
			ExchangeTokens map[string][]string `json:"exchangeTokens"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Mode != "FULL" || len(body.ExchangeTokens["NSE"]) != 2 {
			t.Errorf("quote body: %+v", body)
		}
		w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":{"fetched":[
			{"tradingSymbol":"TATASTEEL-EQ","symbolToken":"3499","ltp":104,"open":101,"high":105,"low":100,"close":100,"percentChange":4,"tradeVolume":12000},
			{"tradingSymbol":"INFY-EQ","symbolToken":"1594","ltp":95,"open":99,"high":99.5,"low":94,"close":100,"percentChange":-5,"tradeVolume":800}
		],"unfetched":[]}}`))
	})
	mux.HandleFunc(routeCandles, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["interval"] != "ONE_DAY" || body["symboltoken"] != "3499" {
			t.Errorf("candle body: %v", body)
		}
		if body["fromdate"] != "2026-01-31 09:15" {
			t.Errorf("fromdate: %q", body["fromdate"])
		}
		w.Write([]byte(`{"status":true,"message":"SUCCESS","errorcode":"","data":[
			["2026-02-26T00:00:00+05:30",100,104,99,103,1000],
			["2026-02-27T00:00:00+05:30",103,105,101,102,1200],
			["2026-03-02T00:00:00+05:30",101,105,100,104,900]
		]}`))
	})
	return mux
}

func newTestSource(t *testing.T, f *fakeAPI) *Source {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	c := New(Config{
		APIKey: "key", ClientCode: "C123", Password: "pw", TOTPSecret: testSecret,
		RootURL: srv.URL, CandleGap: -1,
	})
	c.now = func() time.Time { return time.Date(2026, 3, 2, 11, 0, 0, 0, ist) }
	universe := []config.UniverseEntry{{Symbol: "TATASTEEL", Token: "3499"}, {Symbol: "INFY", Token: "1594"}}
	return NewSource(c, universe, ist)
}

func TestSnapshots_MapsQuotes(t *testing.T) {
	f := &fakeAPI{}
	src := newTestSource(t, f)

	snaps, err := src.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots", len(snaps))
	}
	s := snaps[0]
	if s.Symbol != "TATASTEEL" || s.CompanyName != "TATASTEEL" || s.Close != 104 || s.PreviousClose != 100 {
		t.Errorf("snapshot: %+v", s)
	}
	if s.ChangePercent != 4 || snaps[1].ChangePercent != -5 {
		t.Errorf("change: %v / %v", s.ChangePercent, snaps[1].ChangePercent)
	}
	if f.logins.Load() != 1 {
		t.Errorf("logins: %d", f.logins.Load())
	}
}

func TestSnapshots_LogsInAgainOnTokenError(t *testing.T) {
	f := &fakeAPI{rejectFirst: true}
	src := newTestSource(t, f)

	if _, err := src.Snapshots(context.Background()); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if f.logins.Load() != 2 || f.quoteCalls.Load() != 2 {
		t.Errorf("logins=%d quotes=%d, want 2/2", f.logins.Load(), f.quoteCalls.Load())
	}
}

func TestCandles_DropsTodayAndParses(t *testing.T) {
	src := newTestSource(t, &fakeAPI{})

	got, err := src.Candles(context.Background(), "tatasteel")
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candles, want 2 (today excluded)", len(got))
	}
	if got[0].High != 104 || got[0].Low != 99 || got[1].Close != 102 || got[1].Volume != 1200 {
		t.Errorf("candles: %+v", got)
	}
}

func TestCandles_UnknownSymbol(t *testing.T) {
	src := newTestSource(t, &fakeAPI{})
	if _, err := src.Candles(context.Background(), "NOPE"); err == nil {
		t.Error("expected error for symbol outside the universe")
	}
}

func TestLogin_Failure(t *testing.T) {
	f := &fakeAPI{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()

	c := New(Config{ClientCode: "WRONG", TOTPSecret: testSecret, RootURL: srv.URL})
	if err := c.Login(context.Background()); err == nil {
		t.Error("expected login failure")
	}
}

func TestIsTokenError(t *testing.T) {
	if !isTokenError(http.StatusOK, &envelope{ErrorCode: "AG8002"}) {
		t.Error("AG8002 should be a token error")
	}
	if isTokenError(http.StatusOK, &envelope{ErrorCode: "AB1004"}) {
		t.Error("AB1004 is not a token error")
	}
	if !isTokenError(http.StatusForbidden, &envelope{ErrorType: "TokenException"}) {
		t.Error("TokenException should be a token error")
	}
}

func TestParseCandle_ShortRow(t *testing.T) {
	if _, err := parseCandle([]json.RawMessage{json.RawMessage(`"2026-03-02T00:00:00+05:30"`)}); err == nil {
		t.Error("expected error for short row")
	}
}
