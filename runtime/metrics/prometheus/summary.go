package prometheus

import (
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// NewSessionRegistry returns a registry holding only the FractFlow metrics.
func NewSessionRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	return reg
}

func ownFamily(mf *dto.MetricFamily) bool {
	return strings.HasPrefix(mf.GetName(), namespace+"_")
}

// Totals sums every FractFlow counter in g, keyed by name without the
// namespace prefix, e.g. "turns_total".
func Totals(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		if !ownFamily(mf) || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
		out[strings.TrimPrefix(mf.GetName(), namespace+"_")] = sum
	}
	return out, nil
}

// WriteText writes the FractFlow families in g in the text exposition
// format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if !ownFamily(mf) {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
