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
	"os"
	"path/filepath"
	"strconv"

	"github.com/valyala/fastrand"
)


// Parameters for writing a synthetic repository
type SimParams struct {
	Repo       string   `koanf:"repo"       yaml:"repo"`
	Width      int32    `koanf:"width"      yaml:"width"`
	Height     int32    `koanf:"height"     yaml:"height"`
	AmpRows    int      `koanf:"ampRows"    yaml:"ampRows"`
	AmpCols    int      `koanf:"ampCols"    yaml:"ampCols"`
	Detectors  int      `koanf:"detectors"  yaml:"detectors"`
	Pairs      int      `koanf:"pairs"      yaml:"pairs"`
	ExpStep    float64  `koanf:"expStep"    yaml:"expStep"`     // exposure time increment between pairs, s
	Flux       float64  `koanf:"flux"       yaml:"flux"`        // flat illumination, e-/s/pixel
	Gain       float64  `koanf:"gain"       yaml:"gain"`        // e-/DN
	Bias       float64  `koanf:"bias"       yaml:"bias"`        // DN
	ReadNoise  float64  `koanf:"readNoise"  yaml:"readNoise"`   // DN
	VisitBias  bool     `koanf:"visitBias"  yaml:"visitBias"`
	Fe55Frames int      `koanf:"fe55Frames" yaml:"fe55Frames"`
	Clusters   int      `koanf:"clusters"   yaml:"clusters"`    // per amp and frame
	Sigma      float64  `koanf:"sigma"      yaml:"sigma"`       // cluster width, pixels
	DN         float64  `koanf:"dn"         yaml:"dn"`          // cluster flux, DN
	Seed       uint32   `koanf:"seed"       yaml:"seed"`
}

func (p *SimParams) String() string {
	return fmt.Sprintf("repo %s size %dx%d amps %dx%d detectors %d pairs %d expStep %g flux %g gain %g bias %g "+
		               "readNoise %g visitBias %v fe55Frames %d clusters %d sigma %g dn %g seed %d",
		               p.Repo, p.Width, p.Height, p.AmpRows, p.AmpCols, p.Detectors, p.Pairs, p.ExpStep, p.Flux,
		               p.Gain, p.Bias, p.ReadNoise, p.VisitBias, p.Fe55Frames, p.Clusters, p.Sigma, p.DN, p.Seed)
}

// First visit number of simulated repositories
const simFirstVisit=1000

// Standard normal deviate via the Box-Muller transform
func normRand(rng *fastrand.RNG) float64 {
	u1:=(float64(rng.Uint32())+1)/(float64(math.MaxUint32)+2)
	u2:= float64(rng.Uint32())   /(float64(math.MaxUint32)+1)
	return math.Sqrt(-2*math.Log(u1))*math.Cos(2*math.Pi*u2)
}

// Bias frame with constant level and gaussian read noise
func SimulateBias(w, h int32, bias, readNoise float64, rng *fastrand.RNG) *FITSImage {
	f:=NewFITSImage(w, h)
	for i:=range f.Data {
		f.Data[i]=float32(bias + readNoise*normRand(rng))
	}
	return f
}

// Flat field with the given mean number of electrons per pixel, shot noise, gain, bias and read noise
func SimulateFlat(w, h int32, electrons, gain, bias, readNoise float64, rng *fastrand.RNG) *FITSImage {
	f:=NewFITSImage(w, h)
	shot:=math.Sqrt(electrons)
	for i:=range f.Data {
		e:=electrons + shot*normRand(rng)
		f.Data[i]=float32(bias + e/gain + readNoise*normRand(rng))
	}
	return f
}

// Fe55 frame with the given number of clusters per amplifier on a bias level with read noise. 
// Clusters are exact PSF integrals kept at least 4 pixels from amp edges and 8 pixels from each other. 
// Returns the frame and the true cluster parameters in amp coordinates, per amp
func SimulateFe55(w, h int32, rows, cols, clusters int, sigma, dn, bias, readNoise float64, 
	              rng *fastrand.RNG) (*FITSImage, [][]PSFParams, error) {
	segs, err:=AmpSegments([]int32{w, h}, rows, cols)
	if err!=nil { return nil, nil, err }
	f:=SimulateBias(w, h, bias, readNoise, rng)
	truth:=make([][]PSFParams, len(segs))

	const margin, minDist, radius=4, 8, 3
	for _, seg:=range segs {
		if seg.Width<=2*margin || seg.Height<=2*margin { return nil, nil, fmt.Errorf("amp %d too small", seg.Index) }
		for k, tries:=0, 0; k<clusters && tries<100*clusters; tries++ {
			x0:=float64(margin) + float64(rng.Uint32n(uint32(seg.Width -2*margin))) + float64(rng.Uint32n(1000))/1000 - 0.5
			y0:=float64(margin) + float64(rng.Uint32n(uint32(seg.Height-2*margin))) + float64(rng.Uint32n(1000))/1000 - 0.5
			if tooClose(truth[seg.Index], x0, y0, minDist) { continue }

			p:=PSFParams{X0:x0, Y0:y0, SigmaX:sigma, SigmaY:sigma, DNTot:dn}
			truth[seg.Index]=append(truth[seg.Index], p)
			cx, cy:=int(math.Round(x0)), int(math.Round(y0))
			for y:=cy-radius; y<=cy+radius; y++ {
				for x:=cx-radius; x<=cx+radius; x++ {
					i:=int(seg.Y0)*int(w) + y*int(w) + int(seg.X0) + x
					f.Data[i]+=float32(dn*PixelIntegral(x, y, x0, y0, sigma, sigma))
				}
			}
			k++
		}
	}
	return f, truth, nil
}

func tooClose(ps []PSFParams, x, y, dist float64) bool {
	for _, p:=range ps {
		if math.Hypot(p.X0-x, p.Y0-y)<dist { return true }
	}
	return false
}

// Write a synthetic repository with flat pairs, bias frames and Fe55 frames
func Simulate(p *SimParams) error {
	rng:=&fastrand.RNG{}
	rng.Seed(p.Seed)

	for det:=0; det<p.Detectors; det++ {
		bias:=SimulateBias(p.Width, p.Height, p.Bias, p.ReadNoise, rng)
		if err:=writeSimFrame(bias, filepath.Join(p.Repo, "bias", detFileName(det))); err!=nil { return err }

		for pair:=0; pair<p.Pairs; pair++ {
			expTime:=float64(pair+1)*p.ExpStep
			for k:=0; k<2; k++ {
				visit:=simFirstVisit + 2*pair + k
				flat:=SimulateFlat(p.Width, p.Height, p.Flux*expTime, p.Gain, p.Bias, p.ReadNoise, rng)
				flat.SetHeader(CardVisit   , visit  , "visit number")
				flat.SetHeader(CardDetector, det    , "detector number")
				flat.SetHeader(CardExpTime , expTime, "exposure time in s")
				flat.SetHeader(CardImgType , "FLAT" , "image type")
				flat.SetHeader(CardTestType, "FLAT" , "test type")
				name:=filepath.Join(p.Repo, "raw", strconv.Itoa(visit), detFileName(det))
				if err:=writeSimFrame(flat, name); err!=nil { return err }

				if p.VisitBias {
					vb:=SimulateBias(p.Width, p.Height, p.Bias, p.ReadNoise, rng)
					name:=filepath.Join(p.Repo, "bias", strconv.Itoa(visit), detFileName(det))
					if err:=writeSimFrame(vb, name); err!=nil { return err }
				}
			}
		}

		for frame:=0; frame<p.Fe55Frames; frame++ {
			fe, _, err:=SimulateFe55(p.Width, p.Height, p.AmpRows, p.AmpCols, p.Clusters, p.Sigma, p.DN, p.Bias, p.ReadNoise, rng)
			if err!=nil { return err }
			fe.SetHeader(CardDetector, det   , "detector number")
			fe.SetHeader(CardImgType , "FE55", "image type")
			name:=filepath.Join(p.Repo, "fe55", fmt.Sprintf("fe55-%03d-det%03d.fits", frame, det))
			if err:=writeSimFrame(fe, name); err!=nil { return err }
		}
		LogPrintf("%d: wrote bias, %d flat pairs and %d Fe55 frames\n", det, p.Pairs, p.Fe55Frames)
	}
	return nil
}

func writeSimFrame(f *FITSImage, fileName string) error {
	if err:=os.MkdirAll(filepath.Dir(fileName), 0755); err!=nil { return err }
	return f.WriteFile(fileName)
}
