// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)


// Default configuration file name
const ConfigFileName="ccdlab.yml"

// Parameters for serving results and the PSF API over HTTP
type ServeParams struct {
	Port    int    `koanf:"port"    yaml:"port"`
	Results string `koanf:"results" yaml:"results"`
	Gains   string `koanf:"gains"   yaml:"gains"`
	Table   string `koanf:"table"   yaml:"table"`
}

func (p *ServeParams) String() string {
	return fmt.Sprintf("port %d results %s gains %s table %s", p.Port, p.Results, p.Gains, p.Table)
}

// Complete configuration of all commands
type Config struct {
	LogFile  string      `koanf:"log"      yaml:"log"`
	Fe55     Fe55Params  `koanf:"fe55"     yaml:"fe55"`
	Gain     GainParams  `koanf:"gain"     yaml:"gain"`
	Simulate SimParams   `koanf:"simulate" yaml:"simulate"`
	Serve    ServeParams `koanf:"serve"    yaml:"serve"`
}

// Built-in defaults, overridden by the configuration file and command line flags
func DefaultConfig() Config {
	return Config{
		Fe55: Fe55Params{
			Fit    : DefaultFitParams(),
			Detect : DetectParams{NSigma:5, ClipSigma:3, ClipIter:3, SampleSize:100000},
			AmpRows: 2,
			AmpCols: 8,
			Table  : "fe55_clusters.fits",
			Plot   : "fe55_%s.png",
			Hist   : "fe55_hists.yml",
			Bins   : DefaultFe55Bins(),
		},
		Gain: GainParams{
			Repo      : "repo",
			Detectors : []int{0, 1, 2, 3, 4, 5, 6, 7, 8},
			PoolSize  : 2,
			ExpTimeTol: 0.01,
			BiasMode  : BiasShared,
			ImageType : "FLAT",
			TestType  : "FLAT",
			AmpRows   : 2,
			AmpCols   : 8,
			Output    : "det_data.yml",
			Plot      : "ptc_det%03d.png",
		},
		Simulate: SimParams{
			Repo      : "repo",
			Width     : 512,
			Height    : 256,
			AmpRows   : 2,
			AmpCols   : 8,
			Detectors : 9,
			Pairs     : 5,
			ExpStep   : 1,
			Flux      : 2000,
			Gain      : 1.5,
			Bias      : 1000,
			ReadNoise : 5,
			Fe55Frames: 2,
			Clusters  : 20,
			Sigma     : 1.0,
			DN        : 1600,
			Seed      : 42,
		},
		Serve: ServeParams{
			Port   : 8080,
			Results: ".",
			Gains  : "det_data.yml",
			Table  : "fe55_clusters.fits",
		},
	}
}

// Load configuration from built-in defaults overlaid with the YAML file, if it exists
func LoadConfig(fileName string) (*Config, error) {
	k:=koanf.New(".")
	if err:=k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err!=nil { return nil, err }
	if fileName!="" {
		if _, err:=os.Stat(fileName); err==nil {
			if err:=k.Load(file.Provider(fileName), yaml.Parser()); err!=nil { 
				return nil, fmt.Errorf("error loading config %s: %w", fileName, err) 
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	c:=&Config{}
	if err:=k.Unmarshal("", c); err!=nil { return nil, err }
	if err:=c.Fe55.Fit.Resolve(); err!=nil { return nil, err }
	return c, nil
}

// Write configuration as YAML
func (c *Config) Write(w io.Writer) error {
	enc:=yml.NewEncoder(w)
	if err:=enc.Encode(c); err!=nil { return err }
	return enc.Close()
}

// Write configuration as YAML file
func (c *Config) WriteFile(fileName string) (err error) {
	f, err:=os.Create(fileName)
	if err!=nil { return err }
	defer func() {
		if e:=f.Close(); err==nil { err=e }
	}()
	return c.Write(f)
}
