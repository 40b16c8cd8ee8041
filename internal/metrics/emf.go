// Package metrics emits import run metrics in the CloudWatch Embedded Metric
// Format (EMF): one JSON line on stdout from which CloudWatch Logs extracts
// the metrics. No API calls are made.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// Namespace is the CloudWatch namespace of all importer metrics.
const Namespace = "ProjectImporter"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for one EMF line.
// It is not safe for concurrent use; create one per run.
type Recorder struct {
	out        io.Writer
	namespace  string
	dimensions map[string]string
	metrics    []metricDef
	values     map[string]float64
	properties map[string]any
}

// New creates a Recorder writing to stdout. The FunctionName dimension is
// added when running inside Lambda.
func New(namespace string) *Recorder {
	r := NewWriter(os.Stdout, namespace)
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		r.dimensions["FunctionName"] = fn
	}
	return r
}

// NewWriter creates a Recorder writing to out.
func NewWriter(out io.Writer, namespace string) *Recorder {
	return &Recorder{
		out:        out,
		namespace:  namespace,
		dimensions: make(map[string]string),
		values:     make(map[string]float64),
		properties: make(map[string]any),
	}
}

// Dimension adds a dimension. Dimensions are indexed by CloudWatch.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit. Recording the same
// name twice keeps the last value.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	if _, seen := r.values[name]; !seen {
		r.metrics = append(r.metrics, metricDef{Name: name, Unit: unit})
	}
	r.values[name] = value
	return r
}

// Count records a count metric.
func (r *Recorder) Count(name string, n int) *Recorder {
	return r.Metric(name, float64(n), UnitCount)
}

// Property adds a searchable field that does not create a metric.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the EMF document as a single line. Nothing is written when no
// metric was recorded.
func (r *Recorder) Flush() error {
	if len(r.metrics) == 0 {
		return nil
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	slices.Sort(dimKeys)

	doc := make(map[string]any, 1+len(r.dimensions)+len(r.values)+len(r.properties))
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    r.metrics,
		}},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("emf: marshal metrics: %w", err)
	}
	_, err = fmt.Fprintln(r.out, string(data))
	return err
}
