// Package archive persists inference results: gzip-compressed JSON
// archives, the convergence trace plot and the posterior summary.
package archive

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/op/go-logging"

	"bitbucket.org/Davydov/bmca/model"
	"bitbucket.org/Davydov/bmca/optimize"
)

var log = logging.MustGetLogger("archive")

// Results is the content of the results archive.
type Results struct {
	RunID         string                  `json:"runId"`
	Created       time.Time               `json:"created"`
	Method        string                  `json:"method"`
	Definition    *model.Definition       `json:"definition"`
	Approximation *optimize.Approximation `json:"approximation"`
	Trace         []float64               `json:"trace"`
}

// NewResults creates results with a new run id.
func NewResults(method string, def *model.Definition, appr *optimize.Approximation, trace []float64) *Results {
	return &Results{
		RunID:         uuid.New().String(),
		Created:       time.Now().UTC(),
		Method:        method,
		Definition:    def,
		Approximation: appr,
		Trace:         finiteTrace(trace),
	}
}

// finiteTrace drops values JSON cannot represent.
func finiteTrace(trace []float64) []float64 {
	res := make([]float64, 0, len(trace))
	for _, v := range trace {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		res = append(res, v)
	}
	return res
}

// WriteJSONGz writes v as gzip-compressed JSON.
func WriteJSONGz(fileName string, v interface{}) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	if err := enc.Encode(v); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("%s: %w", fileName, err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if fi, err := os.Stat(fileName); err == nil {
		log.Infof("Wrote %s (%s)", fileName, humanize.Bytes(uint64(fi.Size())))
	}
	return nil
}

// ReadJSONGz reads gzip-compressed JSON into v.
func ReadJSONGz(fileName string, v interface{}) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", fileName, err)
	}
	defer zr.Close()
	if err := json.NewDecoder(zr).Decode(v); err != nil {
		return fmt.Errorf("%s: %w", fileName, err)
	}
	return nil
}
