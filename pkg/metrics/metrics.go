// Package metrics provides a thin facade over opencensus for the
// components of this repo to lazily declare and record measurements.
//
// Metrics modules are plain structs with *stats.Int64Measure and
// *stats.Float64Measure fields decorated with struct tags:
//
//	type M struct {
//	    Fetches *stats.Int64Measure   `metric:"fetchCount" description:"number of fetches" tags:"kind,stage"`
//	    Timing  *stats.Float64Measure `metric:"timing" unit:"milliseconds" description:"fetch latency" tags:"kind"`
//	}
//
// EnsureMetrics allocates the measures, registers views and returns the
// populated module. It may safely be called several times for the same
// location: only the first registration is retained.
package metrics

import (
	"context"
	"path"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	initOnce sync.Once
	mp       *settings
)

func instance() *settings {
	initOnce.Do(func() {
		if mp == nil {
			mp = newSettings()
		}
	})
	return mp
}

// Init global settings for metrics collection, such as the base path and
// exporter setup. Init may be called multiple times: only the first time
// matters.
func Init(opts ...Option) {
	initOnce.Do(func() {
		mp = newSettings(opts...)
	})
}

// EnsureMetrics allows for lazy registration of a metrics module at some
// unique location. Re-registering the same location with a different
// module type panics.
func EnsureMetrics(location string, m interface{}) interface{} {
	return instance().EnsureMetrics(location, m)
}

// Inc increments a counter-like metric
func Inc(counter *stats.Int64Measure, tags ...map[string]string) {
	if counter == nil {
		return
	}
	_ = stats.RecordWithTags(instance().contexter(), mutators(tags), counter.M(1))
}

// Int64 records a value for a measurement
func Int64(measure *stats.Int64Measure, value int64, tags ...map[string]string) {
	if measure == nil {
		return
	}
	_ = stats.RecordWithTags(instance().contexter(), mutators(tags), measure.M(value))
}

// Float64 records a value for a measurement
func Float64(measure *stats.Float64Measure, value float64, tags ...map[string]string) {
	if measure == nil {
		return
	}
	_ = stats.RecordWithTags(instance().contexter(), mutators(tags), measure.M(value))
}

// Since feeds a milliseconds timing measurement from some start time
func Since(start time.Time, measure *stats.Float64Measure, tags ...map[string]string) {
	Duration(start, time.Now(), measure, tags...)
}

// Duration feeds a milliseconds timing measurement from a (start, end) interval
func Duration(start, end time.Time, measure *stats.Float64Measure, tags ...map[string]string) {
	if measure == nil {
		return
	}
	ms := float64(end.Sub(start).Nanoseconds()) / 1e6
	Float64(measure, ms, tags...)
}

type settings struct {
	basePath  string
	contexter func() context.Context
	exporter  view.Exporter
	period    time.Duration

	exclusive sync.Mutex
	modules   map[string]interface{}
	allViews  []*view.View
}

func defaultSettings() *settings {
	return &settings{
		basePath:  "arbor",
		contexter: context.Background,
		modules:   make(map[string]interface{}),
	}
}

func newSettings(opts ...Option) *settings {
	s := defaultSettings()
	for _, apply := range opts {
		apply(s)
	}
	if s.exporter != nil {
		view.RegisterExporter(s.exporter)
		if s.period >= time.Second {
			view.SetReportingPeriod(s.period)
		}
	}
	return s
}

func (s *settings) EnsureMetrics(location string, m interface{}) interface{} {
	s.exclusive.Lock()
	defer s.exclusive.Unlock()
	location = path.Join(s.basePath, location)

	if existing, ok := s.modules[location]; ok {
		if reflect.TypeOf(existing) != reflect.TypeOf(m) {
			panic("trying to re-register existing metrics module with a different type")
		}
		return existing
	}
	s.scanModule(location, m)
	s.modules[location] = m
	return m
}

// scanModule walks the fields of a metrics module and allocates a
// measure with its default view for every tagged field.
func (s *settings) scanModule(location string, m interface{}) {
	rv := reflect.ValueOf(m)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		panic("metrics module must be a pointer to struct")
	}
	structVal := rv.Elem()
	structType := structVal.Type()

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		fieldVal := structVal.Field(i)
		name := field.Tag.Get("metric")
		if name == "" {
			// nested group of metrics
			if fieldVal.Kind() == reflect.Struct && fieldVal.CanAddr() {
				s.scanModule(path.Join(location, field.Tag.Get("group")), fieldVal.Addr().Interface())
			}
			continue
		}
		if !fieldVal.CanSet() {
			continue
		}

		fullName := path.Join(location, name)
		unit := field.Tag.Get("unit")
		if unit == "" {
			unit = stats.UnitDimensionless
		}
		description := field.Tag.Get("description")
		keys := tagKeys(field.Tag.Get("tags"))

		switch fieldVal.Type() {
		case reflect.TypeOf((*stats.Int64Measure)(nil)):
			measure := stats.Int64(fullName, description, unit)
			fieldVal.Set(reflect.ValueOf(measure))
			s.registerView(&view.View{
				Name:        fullName,
				Description: description,
				Measure:     measure,
				TagKeys:     keys,
				Aggregation: view.Sum(),
			})
		case reflect.TypeOf((*stats.Float64Measure)(nil)):
			measure := stats.Float64(fullName, description, unit)
			fieldVal.Set(reflect.ValueOf(measure))
			s.registerView(&view.View{
				Name:        fullName,
				Description: description,
				Measure:     measure,
				TagKeys:     keys,
				Aggregation: view.Distribution(1, 5, 10, 50, 100, 500, 1000, 5000),
			})
		}
	}
}

func (s *settings) registerView(v *view.View) {
	if err := view.Register(v); err != nil {
		return
	}
	s.allViews = append(s.allViews, v)
}

func tagKeys(names string) []tag.Key {
	if names == "" {
		return nil
	}
	parts := strings.Split(names, ",")
	keys := make([]tag.Key, 0, len(parts))
	for _, p := range parts {
		k, err := tag.NewKey(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

func mutators(tags []map[string]string) []tag.Mutator {
	var muts []tag.Mutator
	for _, m := range tags {
		for k, v := range m {
			key, err := tag.NewKey(k)
			if err != nil {
				continue
			}
			muts = append(muts, tag.Upsert(key, v))
		}
	}
	return muts
}
