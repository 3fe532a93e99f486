package main

import (
	"fmt"
	"os"

	"github.com/maseology/dualdrain"
	"github.com/maseology/dualdrain/bucket"
	"github.com/maseology/dualdrain/sewer"
	"github.com/maseology/dualdrain/sweep"
	"gopkg.in/yaml.v3"
)

// scenario is a coupled run on the reference solvers: the coupling settings,
// the storage-cell surface, the sewer layout and, optionally, a sweep plan
type scenario struct {
	Coupling yaml.Node `yaml:"coupling"`
	Surface  struct {
		DtMax   float64         `yaml:"dtmax"`
		Regions []bucket.Region `yaml:"regions"`
	} `yaml:"surface"`
	Network struct {
		DtMax  float64 `yaml:"dtmax"`
		Stride float64 `yaml:"stride"`
		sewer.Layout `yaml:",inline"`
	} `yaml:"network"`
	Sweep struct {
		Samples int           `yaml:"samples"`
		Params  []sweep.Param `yaml:"params"`
	} `yaml:"sweep"`

	cfg dualdrain.Config
}

func loadScenario(fp string) (*scenario, error) {
	b, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("loadScenario: %w", err)
	}
	var sc scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("loadScenario: %w", err)
	}
	if sc.Coupling.Kind == 0 {
		return nil, fmt.Errorf("loadScenario: %s has no coupling section", fp)
	}
	cb, err := yaml.Marshal(&sc.Coupling)
	if err != nil {
		return nil, fmt.Errorf("loadScenario: %w", err)
	}
	if sc.cfg, err = dualdrain.ParseConfig(cb); err != nil {
		return nil, fmt.Errorf("loadScenario: coupling: %w", err)
	}
	if err := sc.cfg.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// build makes a fresh pair of solvers at the scenario start time
func (sc *scenario) build() (dualdrain.Surface, dualdrain.Network, error) {
	sfc, err := bucket.New(sc.Surface.Regions, sc.cfg.StartTime, sc.Surface.DtMax)
	if err != nil {
		return nil, nil, err
	}
	var opts []sewer.Option
	if sc.Network.Stride > 0. {
		opts = append(opts, sewer.WithStride(sc.Network.Stride))
	}
	net, err := sewer.New(sc.Network.Layout, sc.cfg.StartTime, sc.Network.DtMax, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sfc, net, nil
}
