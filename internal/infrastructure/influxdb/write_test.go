package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/spraycell-core/internal/infrastructure/config"
)

func TestTagValuePoint(t *testing.T) {
	ts := time.Unix(1767225600, 0)

	tests := []struct {
		name  string
		value any
		want  []string
	}{
		{"float", 21.5, []string{"tag_values,", "tag=gas.pressure", " float=21.5 "}},
		{"int", int64(7), []string{"tag=gas.pressure", " int=7i "}},
		{"plain int", 3, []string{" int=3i "}},
		{"bool", true, []string{" bool=true "}},
		{"string", "copper", []string{` string="copper" `}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tagValuePoint("gas.pressure", tt.value, ts)
			if p == nil {
				t.Fatal("tagValuePoint() = nil")
			}
			line := write.PointToLineProtocol(p, time.Second)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
		})
	}
}

func TestTagValuePoint_Unsupported(t *testing.T) {
	if p := tagValuePoint("x", nil, time.Now()); p != nil {
		t.Error("nil value should not produce a point")
	}
	if p := tagValuePoint("x", []int{1}, time.Now()); p != nil {
		t.Error("slice value should not produce a point")
	}
}

func TestNewOptions(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.InfluxDBConfig
		site          string
		wantBatch     uint
		wantFlushMS   uint
		wantSiteTag   string
		wantPrecision time.Duration
	}{
		{"defaults", config.InfluxDBConfig{}, "cell-001", defaultBatchSize, defaultFlushInterval * 1000, "cell-001", time.Millisecond},
		{"configured", config.InfluxDBConfig{BatchSize: 10, FlushInterval: 2}, "", 10, 2000, "", time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := newOptions(tt.cfg, tt.site).WriteOptions()
			if wo.BatchSize() != tt.wantBatch {
				t.Errorf("BatchSize() = %d, want %d", wo.BatchSize(), tt.wantBatch)
			}
			if wo.FlushInterval() != tt.wantFlushMS {
				t.Errorf("FlushInterval() = %d, want %d", wo.FlushInterval(), tt.wantFlushMS)
			}
			if wo.Precision() != tt.wantPrecision {
				t.Errorf("Precision() = %v, want %v", wo.Precision(), tt.wantPrecision)
			}
			if got := wo.DefaultTags()["site"]; got != tt.wantSiteTag {
				t.Errorf("site default tag = %q, want %q", got, tt.wantSiteTag)
			}
		})
	}
}

func TestTransitionPoint(t *testing.T) {
	p := transitionPoint("READY", "RUNNING", "start spray", true, false, time.Unix(1767225600, 0))
	line := write.PointToLineProtocol(p, time.Second)

	for _, w := range []string{
		"state_transitions,",
		"from=READY",
		"to=RUNNING",
		"accepted=true",
		"forced=false",
		`reason="start spray"`,
		"1767225600",
	} {
		if !strings.Contains(line, w) {
			t.Errorf("line %q missing %q", line, w)
		}
	}
}

func TestTransitionPoint_Initial(t *testing.T) {
	p := transitionPoint("", "INITIALIZING", "initialized", true, false, time.Unix(0, 0))
	line := write.PointToLineProtocol(p, time.Second)
	if !strings.Contains(line, "from=-") {
		t.Errorf("line %q missing from=-", line)
	}
}
