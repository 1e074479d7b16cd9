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
	"math"

	"gonum.org/v1/gonum/mat"
)


// Integer pixel coordinate
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pixel sample: position, observed signal and assumed noise, both in DN
type Pixel struct {
	Point
	DN    float64 `json:"dn"`
	Noise float64 `json:"noise"`
}

// Parameters of a 2D Gaussian PSF with a linear background plane a*x + b*y + c
type PSFParams struct {
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	SigmaX float64 `json:"sigmax"`
	SigmaY float64 `json:"sigmay"`
	DNTot  float64 `json:"dnTot"`
	A      float64 `json:"a"`
	B      float64 `json:"b"`
	C      float64 `json:"c"`
}

func (p PSFParams) String() string {
	return fmt.Sprintf("x0 %.3f y0 %.3f sigmax %.4f sigmay %.4f dn %.1f a %.4g b %.4g c %.4g",
		               p.X0, p.Y0, p.SigmaX, p.SigmaY, p.DNTot, p.A, p.B, p.C)
}


// Parameterization of the PSF fit
type PSFVariant int
const (
	PSFFull    PSFVariant = iota  // independent widths sigma_x, sigma_y. 8 free parameters
	PSFReduced                    // shared width sigma_x = sigma_y. 7 free parameters
)

func (v PSFVariant) String() string {
	switch v {
		case PSFFull:    return "full"
		case PSFReduced: return "reduced"
	}
	return fmt.Sprintf("PSFVariant(%d)", int(v))
}

// Parse variant name as used in configuration files
func ParsePSFVariant(s string) (PSFVariant, error) {
	switch s {
		case "full", "":  return PSFFull, nil
		case "reduced", "single": return PSFReduced, nil
	}
	return PSFFull, fmt.Errorf("unknown PSF variant %q", s)
}

// Number of free parameters in the fit
func (v PSFVariant) NumParams() int {
	if v==PSFReduced { return 7 }
	return 8
}

// Pack parameters into a solver vector. The reduced variant uses SigmaX as shared width
func (v PSFVariant) Pack(p PSFParams) []float64 {
	if v==PSFReduced {
		return []float64{p.X0, p.Y0, p.SigmaX, p.DNTot, p.A, p.B, p.C}
	}
	return []float64{p.X0, p.Y0, p.SigmaX, p.SigmaY, p.DNTot, p.A, p.B, p.C}
}

// Unpack a solver vector into parameters
func (v PSFVariant) Unpack(pars []float64) PSFParams {
	if v==PSFReduced {
		return PSFParams{X0:pars[0], Y0:pars[1], SigmaX:pars[2], SigmaY:pars[2], DNTot:pars[3],
		                 A:pars[4], B:pars[5], C:pars[6]}
	}
	return PSFParams{X0:pars[0], Y0:pars[1], SigmaX:pars[2], SigmaY:pars[3], DNTot:pars[4],
	                 A:pars[5], B:pars[6], C:pars[7]}
}


// Smallest width used when evaluating residuals, keeps solver steps finite
const MinSigma=1e-6

var sqrt2   =math.Sqrt(2)
var sqrt2Pi =math.Sqrt(2*math.Pi)
var sqrtPi  =math.Sqrt(math.Pi)


// Integrate a 2D Gaussian centered at (x0, y0) with widths sigmaX, sigmaY and unit volume
// over the unit square pixel centered at (x, y). Requires sigmaX, sigmaY > 0
func PixelIntegral(x, y int, x0, y0, sigmaX, sigmaY float64) float64 {
	return axisIntegral(x, x0, sigmaX) * axisIntegral(y, y0, sigmaY)
}

// Fraction of a 1D Gaussian falling into [x-0.5, x+0.5]
func axisIntegral(x int, x0, sigma float64) float64 {
	x1, x2:=float64(x)-0.5, float64(x)+0.5
	return 0.5*(math.Erf((x2-x0)/sqrt2/sigma) - math.Erf((x1-x0)/sqrt2/sigma))
}

// Derivatives of axisIntegral with respect to x0 and sigma
func axisIntegralDerivs(x int, x0, sigma float64) (dX0, dSigma float64) {
	u1:=(float64(x)-0.5-x0)/sqrt2/sigma
	u2:=(float64(x)+0.5-x0)/sqrt2/sigma
	e1, e2:=math.Exp(-u1*u1), math.Exp(-u2*u2)
	dX0   =-(e2-e1)/(sqrt2Pi*sigma)
	dSigma=-(u2*e2-u1*e1)/(sqrtPi*sigma)
	return dX0, dSigma
}


// Expected DN per pixel for a 2D Gaussian with total flux dnTot, for each position in order
func PSFModel(pos []Point, x0, y0, sigmaX, sigmaY, dnTot float64) []float64 {
	res:=make([]float64, len(pos))
	for i, p:=range pos {
		res[i]=dnTot*PixelIntegral(p.X, p.Y, x0, y0, sigmaX, sigmaY)
	}
	return res
}

// Exact integral of the background plane a*x + b*y + c over the unit pixel at (x, y)
func BackgroundIntegral(x, y int, a, b, c float64) float64 {
	x1, x2:=float64(x)-0.5, float64(x)+0.5
	y1, y2:=float64(y)-0.5, float64(y)+0.5
	return 0.5*a*(x2*x2-x1*x1) + 0.5*b*(y2*y2-y1*y1) + c
}

// Expected DN per pixel for a 2D Gaussian plus linear background, for each position in order.
// The background pixel integral reduces to a*x + b*y + c
func PSFModelWithBackground(pos []Point, p PSFParams) []float64 {
	res:=PSFModel(pos, p.X0, p.Y0, p.SigmaX, p.SigmaY, p.DNTot)
	for i, q:=range pos {
		res[i]+=p.A*float64(q.X) + p.B*float64(q.Y) + p.C
	}
	return res
}


// Weighted residuals (dn - model)/noise for the given solver vector, written to dst.
// Widths are evaluated as max(|sigma|, MinSigma) so that extreme solver steps stay finite
func Residuals(dst, pars []float64, v PSFVariant, pos []Point, dn, noise []float64) {
	p:=v.Unpack(pars)
	p.SigmaX, p.SigmaY=guardSigma(p.SigmaX), guardSigma(p.SigmaY)
	for i, q:=range pos {
		m:=p.DNTot*PixelIntegral(q.X, q.Y, p.X0, p.Y0, p.SigmaX, p.SigmaY) +
		   p.A*float64(q.X) + p.B*float64(q.Y) + p.C
		dst[i]=(dn[i]-m)/noise[i]
	}
}

// Analytic Jacobian of Residuals with respect to the solver vector, written to the
// len(pos) x v.NumParams() matrix dst
func ResidualJacobian(dst *mat.Dense, pars []float64, v PSFVariant, pos []Point, noise []float64) {
	p:=v.Unpack(pars)
	sx, sy:=guardSigma(p.SigmaX), guardSigma(p.SigmaY)
	gx, gy:=sigmaSign(p.SigmaX), sigmaSign(p.SigmaY)
	for i, q:=range pos {
		fx, fy:=axisIntegral(q.X, p.X0, sx), axisIntegral(q.Y, p.Y0, sy)
		dfxX0, dfxS:=axisIntegralDerivs(q.X, p.X0, sx)
		dfyY0, dfyS:=axisIntegralDerivs(q.Y, p.Y0, sy)
		dfxS, dfyS=gx*dfxS, gy*dfyS
		w:=-1/noise[i]

		dst.Set(i, 0, w*p.DNTot*dfxX0*fy)
		dst.Set(i, 1, w*p.DNTot*fx*dfyY0)
		off:=0
		if v==PSFReduced {
			dst.Set(i, 2, w*p.DNTot*(dfxS*fy + fx*dfyS))
			off=3
		} else {
			dst.Set(i, 2, w*p.DNTot*dfxS*fy)
			dst.Set(i, 3, w*p.DNTot*fx*dfyS)
			off=4
		}
		dst.Set(i, off  , w*fx*fy)
		dst.Set(i, off+1, w*float64(q.X))
		dst.Set(i, off+2, w*float64(q.Y))
		dst.Set(i, off+3, w)
	}
}

// Chi-square of the data against the PSF model with background. Diagnostic only
func ChiSquare(pos []Point, dn []float64, p PSFParams, noise []float64) float64 {
	model:=PSFModelWithBackground(pos, p)
	chi2:=0.0
	for i:=range model {
		d:=(model[i]-dn[i])/noise[i]
		chi2+=d*d
	}
	return chi2
}

// Derivative of the guarded width with respect to the raw parameter
func sigmaSign(s float64) float64 {
	if math.Abs(s)<MinSigma || math.IsNaN(s) { return 0 }
	if s<0 { return -1 }
	return 1
}

func guardSigma(s float64) float64 {
	s=math.Abs(s)
	if s<MinSigma || math.IsNaN(s) { return MinSigma }
	return s
}
