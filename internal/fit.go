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

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)


// Footprint rejections. These are policy decisions, not failures: callers skip the footprint
var (
	ErrFootprintSize =errors.New("footprint size out of bounds")
	ErrNoConvergence =errors.New("fit did not converge")
	ErrPoorFit       =errors.New("goodness of fit below threshold")
)

// Immutable configuration for fitting footprints
type FitParams struct {
	Variant     PSFVariant  `koanf:"-"          yaml:"-"`
	VariantName string      `koanf:"variant"    yaml:"variant"`
	MinNpix     int         `koanf:"minNpix"    yaml:"minNpix"`
	MaxNpix     int         `koanf:"maxNpix"    yaml:"maxNpix"`
	Sigma0      float64     `koanf:"sigma0"     yaml:"sigma0"`
	DN0         float64     `koanf:"dn0"        yaml:"dn0"`
	A0          float64     `koanf:"a0"         yaml:"a0"`
	B0          float64     `koanf:"b0"         yaml:"b0"`
	C0          float64     `koanf:"c0"         yaml:"c0"`
	MinProb     float64     `koanf:"minProb"    yaml:"minProb"`
	Iterations  int         `koanf:"iterations" yaml:"iterations"`
}

// Default fit configuration for Fe55 clusters
func DefaultFitParams() FitParams {
	return FitParams{
		Variant    : PSFFull,
		VariantName: PSFFull.String(),
		MinNpix    : 9,
		MaxNpix    : 100,
		Sigma0     : 0.36,
		DN0        : 1590.0/5.0,
		C0         : 100,
		MinProb    : 1e-2,
		Iterations : 200,
	}
}

// Resolve the variant from its configured name
func (p *FitParams) Resolve() error {
	v, err:=ParsePSFVariant(p.VariantName)
	if err!=nil { return err }
	p.Variant=v
	return nil
}

func (p *FitParams) String() string {
	return fmt.Sprintf("variant %s minNpix %d maxNpix %d sigma0 %.3f dn0 %.1f a0 %.3g b0 %.3g c0 %.3g "+
		               "minProb %.3g iterations %d",
		               p.Variant, p.MinNpix, p.MaxNpix, p.Sigma0, p.DN0, p.A0, p.B0, p.C0,
		               p.MinProb, p.Iterations)
}


// Result of an accepted footprint fit
type ClusterFit struct {
	Amp     int
	XPeak   int
	YPeak   int
	Params  PSFParams
	Npix    int
	DNSum   float64  // sum of footprint pixel values
	MaxDN   float64
	ChiSq   float64
	Dof     int
	ChiProb float64
}

// Collection of cluster fits, appended to as footprints are accepted
type ClusterFits []*ClusterFit

// Names of the per-cluster quantities available via Column
var ClusterColumns=[]string{"amp", "xpeak", "ypeak", "x0", "y0", "sigmax", "sigmay", "dn", "a", "b", "c",
	                        "npix", "dn_fp", "maxDN", "chi2", "dof", "chiprob"}

// Values of the named quantity over all clusters, or nil for unknown names
func (cf ClusterFits) Column(name string) []float64 {
	get:=columnGetter(name)
	if get==nil { return nil }
	res:=make([]float64, len(cf))
	for i, c:=range cf {
		res[i]=get(c)
	}
	return res
}

// Split clusters by amplifier index
func (cf ClusterFits) ByAmp(numAmps int) []ClusterFits {
	res:=make([]ClusterFits, numAmps)
	for _, c:=range cf {
		if c.Amp>=0 && c.Amp<numAmps { res[c.Amp]=append(res[c.Amp], c) }
	}
	return res
}

func columnGetter(name string) func(c *ClusterFit) float64 {
	switch name {
		case "amp":     return func(c *ClusterFit) float64 { return float64(c.Amp) }
		case "xpeak":   return func(c *ClusterFit) float64 { return float64(c.XPeak) }
		case "ypeak":   return func(c *ClusterFit) float64 { return float64(c.YPeak) }
		case "x0":      return func(c *ClusterFit) float64 { return c.Params.X0 }
		case "y0":      return func(c *ClusterFit) float64 { return c.Params.Y0 }
		case "sigmax":  return func(c *ClusterFit) float64 { return c.Params.SigmaX }
		case "sigmay":  return func(c *ClusterFit) float64 { return c.Params.SigmaY }
		case "dn":      return func(c *ClusterFit) float64 { return c.Params.DNTot }
		case "a":       return func(c *ClusterFit) float64 { return c.Params.A }
		case "b":       return func(c *ClusterFit) float64 { return c.Params.B }
		case "c":       return func(c *ClusterFit) float64 { return c.Params.C }
		case "npix":    return func(c *ClusterFit) float64 { return float64(c.Npix) }
		case "dn_fp":   return func(c *ClusterFit) float64 { return c.DNSum }
		case "maxDN":   return func(c *ClusterFit) float64 { return c.MaxDN }
		case "chi2":    return func(c *ClusterFit) float64 { return c.ChiSq }
		case "dof":     return func(c *ClusterFit) float64 { return float64(c.Dof) }
		case "chiprob": return func(c *ClusterFit) float64 { return c.ChiProb }
	}
	return nil
}


// Probability of a chi-square at least this large if the model is correct
func GoodnessOfFit(chiSq float64, dof int) float64 {
	if dof<=0 { return 0 }
	return mathext.GammaIncRegComp(float64(dof)/2, chiSq/2)
}

// Extract pixel samples of a footprint from the image. Coordinates wrap around the image edges. 
// All pixels share the given noise estimate
func FootprintPixels(fp *Footprint, data []float32, width int32, noise float64) []Pixel {
	w:=int(width)
	h:=len(data)/w
	pix:=make([]Pixel, 0, fp.Area)
	for _, s:=range fp.Spans {
		ym:=((s.Y%h)+h)%h
		for x:=s.X0; x<=s.X1; x++ {
			xm:=((x%w)+w)%w
			pix=append(pix, Pixel{Point:Point{x, s.Y}, DN:float64(data[ym*w+xm]), Noise:noise})
		}
	}
	return pix
}

// Fit the PSF model with linear background to a single footprint. Returns ErrFootprintSize, 
// ErrNoConvergence or ErrPoorFit if the footprint is rejected
func FitFootprint(fp *Footprint, data []float32, width int32, noise float64, p *FitParams) (*ClusterFit, error) {
	if fp.Area<p.MinNpix || fp.Area>p.MaxNpix { return nil, ErrFootprintSize }

	pix:=FootprintPixels(fp, data, width, noise)
	start:=PSFParams{X0:float64(fp.Peak.X), Y0:float64(fp.Peak.Y), SigmaX:p.Sigma0, SigmaY:p.Sigma0,
		            DNTot:p.DN0, A:p.A0, B:p.B0, C:p.C0}
	best, err:=FitPixels(pix, start, p.Variant, p.Iterations)
	if err!=nil { return nil, err }

	pos, dn, noiseV:=splitPixels(pix)
	res:=&ClusterFit{
		XPeak : fp.Peak.X,
		YPeak : fp.Peak.Y,
		Params: best,
		Npix  : fp.Area,
		ChiSq : ChiSquare(pos, dn, best, noiseV),
		Dof   : fp.Area - p.Variant.NumParams(),
		MaxDN : math.Inf(-1),
	}
	res.ChiProb=GoodnessOfFit(res.ChiSq, res.Dof)
	if !(res.ChiProb>=p.MinProb) { return nil, ErrPoorFit }

	for _, v:=range dn {
		res.DNSum+=v
		if v>res.MaxDN { res.MaxDN=v }
	}
	return res, nil
}

// Levenberg-Marquardt solver returning the best parameter vector. The underlying solver 
// panics when a damped step cannot be solved, callers recover
var solveLM=func(problem lm.LMProblem, settings *lm.Settings) ([]float64, error) {
	res, err:=lm.LM(problem, settings)
	if err!=nil { return nil, err }
	return res.X, nil
}

// Levenberg-Marquardt fit of the PSF model with background to the given pixels, starting from the given parameters. 
// Fitted widths are reported as absolute values. Solver failures, including panics, yield ErrNoConvergence
func FitPixels(pix []Pixel, start PSFParams, v PSFVariant, iterations int) (best PSFParams, err error) {
	n:=v.NumParams()
	if len(pix)<n { return start, ErrFootprintSize }
	for _, q:=range pix {
		if !(q.Noise>0) { return start, fmt.Errorf("non-positive noise %g at pixel %v", q.Noise, q.Point) }
	}
	pos, dn, noise:=splitPixels(pix)

	problem:=lm.LMProblem{
		Dim       : n,
		Size      : len(pix),
		Func      : func(dst, pars []float64) { Residuals(dst, pars, v, pos, dn, noise) },
		Jac       : func(dst *mat.Dense, pars []float64) { ResidualJacobian(dst, pars, v, pos, noise) },
		InitParams: v.Pack(start),
		Tau       : 1e-3,
		Eps1      : 1e-10,
		Eps2      : 1e-10,
	}
	if iterations<=0 { iterations=200 }
	defer func() {
		if r:=recover(); r!=nil { best, err=start, fmt.Errorf("%w: %v", ErrNoConvergence, r) }
	}()
	sol, err:=solveLM(problem, &lm.Settings{Iterations:iterations, ObjectiveTol:1e-16})
	if err!=nil { return start, fmt.Errorf("%w: %s", ErrNoConvergence, err.Error()) }
	for _, x:=range sol {
		if math.IsNaN(x) || math.IsInf(x, 0) { return start, ErrNoConvergence }
	}

	best=v.Unpack(sol)
	best.SigmaX, best.SigmaY=math.Abs(best.SigmaX), math.Abs(best.SigmaY)
	if best.SigmaX<MinSigma || best.SigmaY<MinSigma { return start, ErrNoConvergence }
	return best, nil
}

func splitPixels(pix []Pixel) (pos []Point, dn, noise []float64) {
	pos  =make([]Point  , len(pix))
	dn   =make([]float64, len(pix))
	noise=make([]float64, len(pix))
	for i, q:=range pix {
		pos[i], dn[i], noise[i]=q.Point, q.DN, q.Noise
	}
	return pos, dn, noise
}
