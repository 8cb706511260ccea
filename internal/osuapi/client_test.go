package osuapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rankwatch/rankwatch/internal/model"
	"github.com/rankwatch/rankwatch/internal/netutil"
)

type staticTokens struct {
	token    string
	refreshs int32
}

func (s *staticTokens) GetAccessToken() string { return s.token }
func (s *staticTokens) UpdateAccessToken(_ context.Context) error {
	atomic.AddInt32(&s.refreshs, 1)
	s.token = "refreshed"
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *staticTokens, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	tokens := &staticTokens{token: "initial"}
	c := NewClient(Config{
		Requester: netutil.NewRequester(),
		Tokens:    tokens,
		BaseURL:   srv.URL,
		Beatmaps:  NewBeatmapCache(64),
	})
	return c, tokens, srv
}

func TestGetRankings_PageIsOneIndexedUpstream(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ranking":[{"global_rank":1,"pp":12345.6,"hit_accuracy":99.1,"play_time":7200,
			"user":{"id":7,"username":"peppy","country_code":"AU","avatar_url":"https://a.ppy.sh/7"}}]}`))
	}))

	p, err := c.GetRankings(context.Background(), 0, model.GamemodeCatch)
	if err != nil {
		t.Fatalf("get rankings: %v", err)
	}
	if gotPath != "/api/v2/rankings/fruits/performance" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotQuery != "page=1" {
		t.Fatalf("query = %q, want page=1 for zero-based page 0", gotQuery)
	}
	if gotAuth != "Bearer initial" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if len(p.Ranking) != 1 || p.Ranking[0].User.Username != "peppy" {
		t.Fatalf("unexpected page: %+v", p)
	}
	if p.Ranking[0].GlobalRank == nil || *p.Ranking[0].GlobalRank != 1 {
		t.Fatalf("global rank not parsed")
	}
}

func TestGetRankings_PageOutOfRangePanics(t *testing.T) {
	c, _, _ := newTestClient(t, http.NotFoundHandler())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for page 200")
		}
	}()
	c.GetRankings(context.Background(), 200, model.GamemodeOsu)
}

func TestClient_RefreshesTokenOn401(t *testing.T) {
	var calls int32
	c, tokens, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("Authorization") != "Bearer refreshed" {
			t.Errorf("auth after refresh = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"id":7,"username":"peppy","country_code":"AU","avatar_url":""}`))
	}))

	u, found, err := c.GetUser(context.Background(), 7, model.GamemodeOsu)
	if err != nil || !found {
		t.Fatalf("get user: found=%v err=%v", found, err)
	}
	if u.Username != "peppy" {
		t.Fatalf("username = %q", u.Username)
	}
	if atomic.LoadInt32(&tokens.refreshs) != 1 {
		t.Fatalf("token refreshed %d times, want 1", tokens.refreshs)
	}
}

func TestClient_NotFoundIsNonFatal(t *testing.T) {
	c, _, _ := newTestClient(t, http.NotFoundHandler())
	_, found, err := c.GetUser(context.Background(), 404404, model.GamemodeOsu)
	if err != nil {
		t.Fatalf("404 should not error: %v", err)
	}
	if found {
		t.Fatal("404 reported as found")
	}
}

func TestClient_UnhandledStatusFails(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, _, err := c.GetUser(context.Background(), 1, model.GamemodeOsu)
	if err == nil {
		t.Fatal("expected failure on 403")
	}
}

func TestClient_RetriesOn5xx(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps through one backoff step")
	}
	var calls int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":1,"username":"x","country_code":"US","avatar_url":""}`))
	}))

	_, found, err := c.GetUser(context.Background(), 1, model.GamemodeOsu)
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestClient_ArrayResponseRejected(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[1,2,3]`))
	}))
	_, _, err := c.GetUser(context.Background(), 1, model.GamemodeOsu)
	if err == nil {
		t.Fatal("expected error for non-object JSON")
	}
}

func TestGetUsers_BatchLimit(t *testing.T) {
	c, _, _ := newTestClient(t, http.NotFoundHandler())
	ids := make([]model.UserID, MaxBatchIDs+1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic above batch limit")
		}
	}()
	c.GetUsers(context.Background(), ids, model.GamemodeOsu)
}

func TestGetBeatmaps_CacheServesRepeats(t *testing.T) {
	var calls int32
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"beatmaps":[
			{"id":10,"difficulty_rating":6.2,"version":"Extra","max_combo":1200,
			 "beatmapset":{"artist":"A","title":"T","creator":"C"}},
			{"id":11,"difficulty_rating":5.0,"version":"Insane","max_combo":900,
			 "beatmapset":{"artist":"B","title":"U","creator":"D"}}]}`))
	}))

	first, err := c.GetBeatmaps(context.Background(), []model.BeatmapID{10, 11})
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first batch size = %d", len(first))
	}

	second, err := c.GetBeatmaps(context.Background(), []model.BeatmapID{10, 11})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second batch size = %d", len(second))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("upstream called %d times, want 1 (cache should serve repeats)", calls)
	}
}

func TestUser_StatisticsFor(t *testing.T) {
	rank := 42
	u := User{
		StatisticsRulesets: map[string]UserStatistics{
			"fruits": {GlobalRank: &rank, PP: 9000},
		},
	}
	s, ok := u.StatisticsFor(model.GamemodeCatch)
	if !ok || s.PP != 9000 || *s.GlobalRank != 42 {
		t.Fatalf("statistics for catch = %+v ok=%v", s, ok)
	}
	if _, ok := u.StatisticsFor(model.GamemodeMania); ok {
		t.Fatal("missing ruleset should not resolve")
	}
}

func TestRankHistory_YesterdayRank(t *testing.T) {
	data := make([]int, RankHistoryLength)
	for i := range data {
		data[i] = 100 - i
	}
	h := &RankHistory{Data: data}
	r, ok := h.YesterdayRank()
	if !ok || r != 100-YesterdayRankIndex {
		t.Fatalf("yesterday rank = %d ok=%v", r, ok)
	}

	short := &RankHistory{Data: make([]int, 10)}
	if _, ok := short.YesterdayRank(); ok {
		t.Fatal("short history should not resolve")
	}
	var nilHist *RankHistory
	if _, ok := nilHist.YesterdayRank(); ok {
		t.Fatal("nil history should not resolve")
	}
}
