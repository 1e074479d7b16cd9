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
	"math"
	"sort"

	"github.com/maorshutman/lm"
	"github.com/montanaflynn/stats"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)


// Robust location and scale of the data. Iteratively clips values further than clipSigma standard 
// deviations from the median, for at most iter rounds. Data sets larger than sampleSize are estimated
// from a random subsample drawn with rng. NaNs are ignored
func ClippedStats(data []float32, clipSigma float32, iter int, sampleSize int, rng *fastrand.RNG) (median, stdDev float64, err error) {
	var d stats.Float64Data
	if sampleSize>0 && len(data)>sampleSize {
		if rng==nil { rng=&fastrand.RNG{} }
		d=make(stats.Float64Data, 0, sampleSize)
		for i:=0; i<sampleSize; i++ {
			v:=data[rng.Uint32n(uint32(len(data)))]
			if !math.IsNaN(float64(v)) { d=append(d, float64(v)) }
		}
	} else {
		d=make(stats.Float64Data, 0, len(data))
		for _, v:=range data {
			if !math.IsNaN(float64(v)) { d=append(d, float64(v)) }
		}
	}
	if len(d)==0 { return 0, 0, errors.New("no valid pixels for statistics") }

	for it:=0; ; it++ {
		median, err=stats.Median(d)
		if err!=nil { return 0, 0, err }
		stdDev, err=stats.StandardDeviationPopulation(d)
		if err!=nil { return 0, 0, err }
		if it>=iter || stdDev==0 { break }

		lo, hi:=median-float64(clipSigma)*stdDev, median+float64(clipSigma)*stdDev
		kept:=d[:0:0]
		for _, v:=range d {
			if v>=lo && v<=hi { kept=append(kept, v) }
		}
		if len(kept)==len(d) || len(kept)==0 { break }
		d=kept
	}
	return median, stdDev, nil
}


// Histogram range and bin count for one quantity
type BinSpec struct {
	Min  float64 `koanf:"min"  yaml:"min"`
	Max  float64 `koanf:"max"  yaml:"max"`
	Bins int     `koanf:"bins" yaml:"bins"`
}

// Histogram of a list of values with summary statistics and an optional Gaussian fit
type HistStats struct {
	Counts []float64 `yaml:"counts"`
	Edges  []float64 `yaml:"edges"`
	Mean   float64   `yaml:"mean"`
	StdDev float64   `yaml:"stdev"`
	Fit    []float64 `yaml:"fit,omitempty"` // norm, mu, sigma. Nil if no fit was possible
}

func (h *HistStats) String() string {
	return fmt.Sprintf("n %.0f mean %.4g stdev %.4g fit %v", floats.Sum(h.Counts), h.Mean, h.StdDev, h.Fit)
}

// Bin centers
func (h *HistStats) Centers() []float64 {
	if len(h.Edges)<2 { return nil }
	c:=make([]float64, len(h.Edges)-1)
	for i:=range c {
		c[i]=(h.Edges[i]+h.Edges[i+1])/2
	}
	return c
}

// Fitted Gaussian evaluated at the bin centers, or nil without fit
func (h *HistStats) Model() []float64 {
	if h.Fit==nil { return nil }
	c:=h.Centers()
	for i, x:=range c {
		c[i]=SingleGaussian(x, h.Fit[0], h.Fit[1], h.Fit[2])
	}
	return c
}

// Unnormalized Gaussian with peak height norm
func SingleGaussian(x, norm, mu, sigma float64) float64 {
	d:=x-mu
	return norm*math.Exp(-d*d/(2*sigma*sigma))
}


// Histogram each value list with its bin spec, and add mean, standard deviation and a Gaussian
// fit. Keys without a valid bin spec are skipped
func BinLists(values map[string][]float64, bins map[string]BinSpec) map[string]*HistStats {
	res:=map[string]*HistStats{}
	for key, list:=range values {
		spec, ok:=bins[key]
		if !ok { continue }
		if spec.Bins<1 || !(spec.Max>spec.Min) {
			LogPrintf("Warning: skipping histogram %s with invalid bins %v\n", key, spec)
			continue
		}

		h:=&HistStats{}
		h.Counts, h.Edges=histogram(list, spec)
		if len(list)>0 {
			h.Mean, _  =stats.Mean(list)
			h.StdDev, _=stats.StandardDeviationPopulation(list)
			if p0:=gaussianStart(list, spec, h.Counts); p0!=nil {
				h.Fit, _=fitGaussian(h.Centers(), h.Counts, p0)
			}
		}
		res[key]=h
	}
	return res
}

// Histogram with equal-width bins over [Min, Max]. The last bin includes Max, values outside are dropped
func histogram(values []float64, spec BinSpec) (counts, edges []float64) {
	edges=floats.Span(make([]float64, spec.Bins+1), spec.Min, spec.Max)
	counts=make([]float64, spec.Bins)

	in:=make([]float64, 0, len(values))
	for _, v:=range values {
		if v>=spec.Min && v<=spec.Max { in=append(in, v) }
	}
	if len(in)==0 { return counts, edges }
	sort.Float64s(in)

	dividers:=append([]float64(nil), edges...)
	dividers[spec.Bins]=math.Nextafter(spec.Max, math.Inf(1))
	stat.Histogram(counts, dividers, in, nil)
	return counts, edges
}

// Starting point (peak count, mean, stdev) for the Gaussian fit, from the values within the bin range.
// Nil if fewer than two values are in range
func gaussianStart(values []float64, spec BinSpec, counts []float64) []float64 {
	in:=stats.Float64Data{}
	for _, v:=range values {
		if v>=spec.Min && v<=spec.Max { in=append(in, v) }
	}
	if len(in)<2 { return nil }
	mean, _  :=stats.Mean(in)
	stdDev, _:=stats.StandardDeviationPopulation(in)
	return []float64{floats.Max(counts), mean, stdDev}
}

// Least squares fit of a single Gaussian to binned data, starting from p0 = (norm, mu, sigma)
func fitGaussian(x, y, p0 []float64) (fit []float64, err error) {
	if len(x)<3 || p0[2]<=0 { return nil, errors.New("too few bins or zero width for gaussian fit") }
	defer func() {
		if r:=recover(); r!=nil { fit, err=nil, fmt.Errorf("gaussian fit failed: %v", r) }
	}()

	f:=func(dst, p []float64) {
		for i:=range x {
			dst[i]=SingleGaussian(x[i], p[0], p[1], p[2]) - y[i]
		}
	}
	jac:=lm.NumJac{Func:f}
	problem:=lm.LMProblem{
		Dim       :3,
		Size      :len(x),
		Func      :f,
		Jac       :jac.Jac,
		InitParams:p0,
		Tau       :1e-6,
		Eps1      :1e-8,
		Eps2      :1e-8,
	}
	sol, err:=solveLM(problem, &lm.Settings{Iterations:100, ObjectiveTol:1e-16})
	if err!=nil { return nil, err }
	for _, v:=range sol {
		if math.IsNaN(v) || math.IsInf(v, 0) { return nil, errors.New("gaussian fit diverged") }
	}
	fit=append([]float64(nil), sol...)
	fit[2]=math.Abs(fit[2])
	return fit, nil
}
