package domain

import (
	"reflect"
	"testing"
)

func TestShowRow_ValuesFollowColumns(t *testing.T) {
	r := &ShowRow{
		Name:              "Show",
		Languages:         "en, es",
		Explicit:          true,
		TotalEpisodes:     12,
		AvgEpisodeMinutes: 3,
		AvgReleaseGapDays: OptionalFloat{},
		Rating:            DisabledRating(),
	}

	cols := r.Columns()
	vals := r.Values()
	if len(cols) != len(vals) {
		t.Fatalf("列数与值数不一致：%d vs %d", len(cols), len(vals))
	}

	byCol := make(map[string]string, len(cols))
	for i, c := range cols {
		byCol[c] = vals[i]
	}
	if byCol[ColExplicit] != "true" {
		t.Fatalf("Is Explicit? 期望 true，实际 %q", byCol[ColExplicit])
	}
	if byCol[ColAvgEpisodeLength] != "3.0" {
		t.Fatalf("平均时长期望 3.0，实际 %q", byCol[ColAvgEpisodeLength])
	}
	if byCol[ColAvgReleaseGap] != NotAvailable {
		t.Fatalf("无间隔时期望 N/A，实际 %q", byCol[ColAvgReleaseGap])
	}
	if byCol[ColRating] != "0" || byCol[ColRaters] != "0" {
		t.Fatalf("关闭抓取时评分应为 0：%q %q", byCol[ColRating], byCol[ColRaters])
	}
}

func TestResultSet_HeaderSkipsPlaceholders(t *testing.T) {
	rs := ResultSet{nil, &ShowRow{Name: "a"}, nil}

	if got := rs.Header(); !reflect.DeepEqual(got, Columns()) {
		t.Fatalf("header 不符合预期：%v", got)
	}
	if n := len(rs.Rows()); n != 1 {
		t.Fatalf("期望 1 行，实际 %d", n)
	}

	var empty ResultSet
	if got := empty.Header(); len(got) != len(Columns()) {
		t.Fatalf("空结果集应退回固定列集合：%v", got)
	}
}

func TestRound2(t *testing.T) {
	cases := map[float64]float64{
		3.14159: 3.14,
		-1.234:  -1.23,
		5:       5,
	}
	for in, want := range cases {
		if got := Round2(in); got != want {
			t.Fatalf("Round2(%v)=%v，期望 %v", in, got, want)
		}
	}
}

func TestOptionalFloat_StringKeepsOneDecimal(t *testing.T) {
	cases := map[OptionalFloat]string{
		SomeFloat(3):    "3.0",
		SomeFloat(0):    "0.0",
		SomeFloat(2.5):  "2.5",
		SomeFloat(3.33): "3.33",
		{}:              NotAvailable,
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Fatalf("%+v 期望 %q，实际 %q", in, want, got)
		}
	}
}
