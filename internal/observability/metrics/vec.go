package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// durationBuckets covers a local precheck up to a slow RPC round trip.
var durationBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type kind int

const (
	kindCounter kind = iota
	kindHistogram
)

// vec is one metric family keyed by its label values.
type vec struct {
	name   string
	help   string
	kind   kind
	labels []string

	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	values []string
	total  uint64
	// histogram only
	counts []uint64
	sum    float64
}

// families is rendered by Handler in this order.
var families []*vec

func newVec(k kind, name, help string, labels ...string) *vec {
	v := &vec{name: name, help: help, kind: k, labels: labels, series: make(map[string]*series)}
	families = append(families, v)
	return v
}

func (v *vec) lookup(values []string) *series {
	if len(values) != len(v.labels) {
		panic(fmt.Sprintf("metrics: %s expects %d label values, got %d", v.name, len(v.labels), len(values)))
	}
	key := strings.Join(values, "\xff")
	s := v.series[key]
	if s == nil {
		s = &series{values: append([]string(nil), values...)}
		if v.kind == kindHistogram {
			s.counts = make([]uint64, len(durationBuckets))
		}
		v.series[key] = s
	}
	return s
}

func (v *vec) inc(values ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lookup(values).total++
}

func (v *vec) observe(d time.Duration, values ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.lookup(values)
	seconds := d.Seconds()
	s.total++
	s.sum += seconds
	for i, bound := range durationBuckets {
		if seconds <= bound {
			s.counts[i]++
		}
	}
}

func (v *vec) value(values ...string) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.series[strings.Join(values, "\xff")]; ok {
		return s.total
	}
	return 0
}

func (v *vec) write(b *strings.Builder) {
	v.mu.Lock()
	defer v.mu.Unlock()

	all := make([]*series, 0, len(v.series))
	for _, s := range v.series {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool {
		return strings.Join(all[i].values, "\xff") < strings.Join(all[j].values, "\xff")
	})

	typ := "counter"
	if v.kind == kindHistogram {
		typ = "histogram"
	}
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", v.name, v.help, v.name, typ)
	for _, s := range all {
		labels := v.render(s.values)
		if v.kind == kindCounter {
			fmt.Fprintf(b, "%s{%s} %d\n", v.name, labels, s.total)
			continue
		}
		for i, bound := range durationBuckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", v.name, labels, formatFloat(bound), s.counts[i])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", v.name, labels, s.total)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", v.name, labels, formatFloat(s.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", v.name, labels, s.total)
	}
}

func (v *vec) render(values []string) string {
	pairs := make([]string, len(values))
	for i, value := range values {
		pairs[i] = fmt.Sprintf("%s=%q", v.labels[i], value)
	}
	return strings.Join(pairs, ",")
}

// Handler exposes every family in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var b strings.Builder
		for _, family := range families {
			family.write(&b)
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(b.String()))
	})
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
