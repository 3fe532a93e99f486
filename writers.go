package dualdrain

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/maseology/dualdrain/ledger"
	"github.com/maseology/mmio"
)

// WriteLedgerCSV writes the ledger loss series
func WriteLedgerCSV(fp string, ss []ledger.Sample) error {
	csvw := mmio.NewCSVwriter(fp)
	defer csvw.Close()
	if err := csvw.WriteHead("t,loss"); err != nil {
		return fmt.Errorf("WriteLedgerCSV: %v", err)
	}
	for _, s := range ss {
		csvw.WriteLine(s.T, s.Loss)
	}
	return nil
}

// WriteStepsCSV writes per-point step records, one line per point per step
func WriteStepsCSV(fp string, recs []StepRecord) error {
	csvw := mmio.NewCSVwriter(fp)
	defer csvw.Close()
	if err := csvw.WriteHead("step,t,point,regime,dh,raw,smoothed,commanded,realized,clamped,loss"); err != nil {
		return fmt.Errorf("WriteStepsCSV: %v", err)
	}
	for _, r := range recs {
		for _, p := range r.Points {
			clamped := 0
			if p.Clamped {
				clamped = 1
			}
			csvw.WriteLine(r.Step, r.Time, p.Name, p.Regime.String(), p.Dh, p.Raw, p.Smoothed, p.Commanded, p.Realized, clamped, r.Loss)
		}
	}
	return nil
}

// snapshot is the gob form of a Report; the drift error is flattened
type snapshot struct {
	Steps    int
	Time     float64
	Ledger   ledger.Report
	Points   []PointReport
	DriftMsg string
}

// SaveGob Report to gob
func (r Report) SaveGob(fp string) error {
	f, err := os.Create(fp)
	if err != nil {
		return fmt.Errorf(" Report.SaveGob %v", err)
	}
	defer f.Close()
	s := snapshot{Steps: r.Steps, Time: r.Time, Ledger: r.Ledger, Points: r.Points}
	if r.Drift != nil {
		s.DriftMsg = r.Drift.Error()
	}
	if err := gob.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf(" Report.SaveGob %v", err)
	}
	return nil
}

// LoadGobReport loads a Report saved with SaveGob. A drift diagnostic is restored
// as a *DriftError rebuilt from the ledger summary.
func LoadGobReport(fp string, tol float64) (Report, error) {
	f, err := os.Open(fp)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()
	var s snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return Report{}, fmt.Errorf("LoadGobReport: %v", err)
	}
	r := Report{Steps: s.Steps, Time: s.Time, Ledger: s.Ledger, Points: s.Points}
	if s.DriftMsg != "" {
		r.Drift = &DriftError{Loss: r.Ledger.FinalLoss, Tolerance: tol, Growing: r.Ledger.Growing}
	}
	return r, nil
}

// Collector is an Observer that keeps every step record in memory
type Collector struct {
	Records []StepRecord
}

func (c *Collector) Observe(r StepRecord) error {
	c.Records = append(c.Records, r)
	return nil
}
