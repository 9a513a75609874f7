// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package metrics

import (
	"fmt"
	"reflect"

	"github.com/cilium/hive/cell"

	"github.com/cilium/vbridge/pkg/metrics/metric"
)

// Cell provides the agent metrics registry.
var Cell = cell.Module("metrics", "Metrics",
	cell.Config(defaultConfig),
	cell.Provide(NewRegistry),
	Metric(NewLoggingHookMetrics),
	cell.Invoke(func(*Registry) {}),
)

type metricOut struct {
	cell.Out

	Metrics []metric.WithMetadata `group:"hive-metrics,flatten"`
}

// Metric provides the struct returned by ctor and contributes every field of
// it to the registry. All fields must be exported and implement
// metric.WithMetadata.
func Metric[S any](ctor func() S) cell.Cell {
	var nilOut S
	outTyp := reflect.TypeOf(nilOut)
	if outTyp.Kind() == reflect.Ptr {
		outTyp = outTyp.Elem()
	}
	if outTyp.Kind() != reflect.Struct {
		panic(fmt.Sprintf("metrics.Metric must be invoked with a constructor returning a struct, got %s", outTyp.Kind()))
	}

	withMetaTyp := reflect.TypeOf((*metric.WithMetadata)(nil)).Elem()
	for i := 0; i < outTyp.NumField(); i++ {
		field := outTyp.Field(i)
		if !field.IsExported() {
			panic(fmt.Sprintf("metric struct %s has private field %q", outTyp, field.Name))
		}
		if !field.Type.Implements(withMetaTyp) {
			panic(fmt.Sprintf("field %q of %s does not implement metric.WithMetadata", field.Name, outTyp))
		}
	}

	return cell.Provide(ctor, provideMetrics[S])
}

func provideMetrics[S any](metricSet S) metricOut {
	var metrics []metric.WithMetadata

	value := reflect.ValueOf(metricSet)
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}
	for i := 0; i < value.NumField(); i++ {
		if withMeta, ok := value.Field(i).Interface().(metric.WithMetadata); ok {
			metrics = append(metrics, withMeta)
		}
	}
	return metricOut{Metrics: metrics}
}
