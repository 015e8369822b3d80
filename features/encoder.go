package features

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sentinel is the code returned for values that were not present at fit time.
// It is never a valid code.
const Sentinel = -1

var unseenCategories = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "transit_unseen_category_total",
	Help: "Total number of categorical values encoded as the sentinel code.",
}, []string{"feature"})

// CategoryEncoder maps the category values of one feature to dense codes in
// [0, N). It is frozen once built and safe for concurrent Encode calls.
type CategoryEncoder struct {
	name    string
	classes []string
	index   map[string]int
}

// Fit builds an encoder from the observed values. Codes follow sorted order
// of the distinct values, so two fits over the same set agree.
func Fit(name string, values []string) *CategoryEncoder {
	seen := make(map[string]struct{}, len(values))
	classes := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	sort.Strings(classes)
	return newEncoder(name, classes)
}

func newEncoder(name string, classes []string) *CategoryEncoder {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &CategoryEncoder{name: name, classes: classes, index: index}
}

// Encode returns the code assigned to value, or Sentinel if value was not
// seen at fit time.
func (e *CategoryEncoder) Encode(value string) int {
	if code, ok := e.index[value]; ok {
		return code
	}
	unseenCategories.WithLabelValues(e.name).Inc()
	return Sentinel
}

func (e *CategoryEncoder) Name() string { return e.name }

// Len is the number of known categories.
func (e *CategoryEncoder) Len() int { return len(e.classes) }

// Classes returns a copy of the known categories in code order.
func (e *CategoryEncoder) Classes() []string {
	out := make([]string, len(e.classes))
	copy(out, e.classes)
	return out
}

type encoderJSON struct {
	Name    string   `json:"name"`
	Classes []string `json:"classes"`
}

func (e *CategoryEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(encoderJSON{Name: e.name, Classes: e.classes})
}

func (e *CategoryEncoder) UnmarshalJSON(data []byte) error {
	var raw encoderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(raw.Classes))
	for _, c := range raw.Classes {
		if _, ok := seen[c]; ok {
			return fmt.Errorf("encoder %s: duplicate class %q", raw.Name, c)
		}
		seen[c] = struct{}{}
	}
	*e = *newEncoder(raw.Name, raw.Classes)
	return nil
}
