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
	"errors"
	"fmt"

	"github.com/valyala/fastrand"
)


// Parameters for fitting Fe55 X-ray clusters
type Fe55Params struct {
	Fit      FitParams           `koanf:"fit"     yaml:"fit"`
	Detect   DetectParams        `koanf:"detect"  yaml:"detect"`
	AmpRows  int                 `koanf:"ampRows" yaml:"ampRows"`
	AmpCols  int                 `koanf:"ampCols" yaml:"ampCols"`
	Bias     string              `koanf:"bias"    yaml:"bias"`
	Table    string              `koanf:"table"   yaml:"table"`
	Plot     string              `koanf:"plot"    yaml:"plot"`     // pattern with %s for the quantity
	Hist     string              `koanf:"hist"    yaml:"hist"`     // YAML file with per-amp histograms
	Bins     map[string]BinSpec  `koanf:"bins"    yaml:"bins"`
}

func (p *Fe55Params) String() string {
	return fmt.Sprintf("%s %s amps %dx%d bias %s table %s plot %s hist %s",
		               &p.Fit, &p.Detect, p.AmpRows, p.AmpCols, p.Bias, p.Table, p.Plot, p.Hist)
}

// Counts of footprints per outcome
type FitStats struct {
	Footprints   int
	Accepted     int
	RejectedSize int
	NoConverge   int
	PoorFit      int
}

func (s *FitStats) Add(o *FitStats) {
	s.Footprints  +=o.Footprints
	s.Accepted    +=o.Accepted
	s.RejectedSize+=o.RejectedSize
	s.NoConverge  +=o.NoConverge
	s.PoorFit     +=o.PoorFit
}

func (s *FitStats) String() string {
	return fmt.Sprintf("footprints %d accepted %d size %d noConverge %d poorFit %d", 
		               s.Footprints, s.Accepted, s.RejectedSize, s.NoConverge, s.PoorFit)
}


// Detect and fit clusters on all amplifiers of a bias-subtracted exposure
func FitExposure(img *FITSImage, p *Fe55Params, rng *fastrand.RNG) (ClusterFits, *FitStats, error) {
	segs, err:=AmpSegments(img.Naxisn, p.AmpRows, p.AmpCols)
	if err!=nil { return nil, nil, err }

	fits :=ClusterFits{}
	total:=&FitStats{}
	for _, seg:=range segs {
		amp:=img.Cutout(seg)
		ampFits, st, err:=FitAmp(amp, seg, p, rng)
		if err!=nil { return nil, nil, fmt.Errorf("amp %d: %w", seg.Index, err) }
		fits=append(fits, ampFits...)
		total.Add(st)
	}
	return fits, total, nil
}

// Detect and fit clusters on a single amplifier cutout. Rejected footprints are counted, not returned
func FitAmp(amp []float32, seg Segment, p *Fe55Params, rng *fastrand.RNG) (ClusterFits, *FitStats, error) {
	median, stdDev, err:=ClippedStats(amp, p.Detect.ClipSigma, p.Detect.ClipIter, p.Detect.SampleSize, rng)
	if err!=nil { return nil, nil, err }
	if stdDev<=0 { return nil, nil, errors.New("degenerate amplifier with zero noise") }

	threshold:=float32(median + float64(p.Detect.NSigma)*stdDev)
	fps:=FindFootprints(amp, seg.Width, threshold)

	fits:=ClusterFits{}
	st  :=&FitStats{Footprints:len(fps)}
	for i:=range fps {
		cf, err:=FitFootprint(&fps[i], amp, seg.Width, stdDev, &p.Fit)
		switch {
			case err==nil:
				cf.Amp=seg.Index
				fits=append(fits, cf)
				st.Accepted++
			case errors.Is(err, ErrFootprintSize): st.RejectedSize++
			case errors.Is(err, ErrPoorFit):       st.PoorFit++
			default:                               st.NoConverge++
		}
	}
	return fits, st, nil
}

// Per-amplifier histograms of the configured cluster quantities
func AmpHistograms(fits ClusterFits, numAmps int, bins map[string]BinSpec) []map[string]*HistStats {
	byAmp:=fits.ByAmp(numAmps)
	res  :=make([]map[string]*HistStats, numAmps)
	for i, af:=range byAmp {
		values:=map[string][]float64{}
		for key:=range bins {
			if col:=af.Column(key); col!=nil { values[key]=col }
		}
		res[i]=BinLists(values, bins)
	}
	return res
}

// Default histogram ranges for Fe55 cluster quantities
func DefaultFe55Bins() map[string]BinSpec {
	return map[string]BinSpec{
		"sigmax" : {Min:0, Max:2   , Bins:50},
		"sigmay" : {Min:0, Max:2   , Bins:50},
		"dn"     : {Min:0, Max:3000, Bins:60},
		"chiprob": {Min:0, Max:1   , Bins:20},
	}
}
