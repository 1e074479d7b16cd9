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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/valyala/fastrand"
)


func testFe55Params() *Fe55Params {
	p:=DefaultConfig().Fe55
	p.AmpRows, p.AmpCols=2, 2
	p.Table, p.Plot, p.Hist="", "", ""
	return &p
}

func TestFitExposureRecoversSimulatedClusters(t *testing.T) {
	rng:=&fastrand.RNG{}
	rng.Seed(11)
	img, truth, err:=SimulateFe55(128, 64, 2, 2, 10, 1.0, 1600, 1000, 5, rng)
	if err!=nil { t.Fatal(err) }
	numTrue:=0
	for _, tr:=range truth { numTrue+=len(tr) }
	if numTrue!=40 { t.Fatalf("expected 40 simulated clusters got %d", numTrue) }

	p:=testFe55Params()
	fits, st, err:=FitExposure(img, p, rng)
	if err!=nil { t.Fatal(err) }
	if st.Accepted!=len(fits) { t.Errorf("accepted count %d differs from %d fits", st.Accepted, len(fits)) }
	if st.Footprints!=st.Accepted+st.RejectedSize+st.NoConverge+st.PoorFit { t.Errorf("inconsistent stats %s", st) }
	if len(fits)<numTrue*8/10 { t.Fatalf("expected at least %d accepted clusters got %d (%s)", numTrue*8/10, len(fits), st) }

	sumSigma, sumDN, matched:=0.0, 0.0, 0
	for _, cf:=range fits {
		for _, tr:=range truth[cf.Amp] {
			if math.Hypot(cf.Params.X0-tr.X0, cf.Params.Y0-tr.Y0)<0.3 {
				matched++
				break
			}
		}
		sumSigma+=(cf.Params.SigmaX+cf.Params.SigmaY)/2
		sumDN   +=cf.Params.DNTot
		if cf.Dof!=cf.Npix-p.Fit.Variant.NumParams() { t.Errorf("unexpected dof %d for npix %d", cf.Dof, cf.Npix) }
	}
	if matched!=len(fits) { t.Errorf("only %d of %d fits match a simulated cluster", matched, len(fits)) }
	meanSigma, meanDN:=sumSigma/float64(len(fits)), sumDN/float64(len(fits))
	if math.Abs(meanSigma-1)>0.1 { t.Errorf("expected mean sigma near 1 got %g", meanSigma) }
	if math.Abs(meanDN-1600)>0.05*1600 { t.Errorf("expected mean DN near 1600 got %g", meanDN) }
}

func TestFitAmpCountsRejections(t *testing.T) {
	rng:=&fastrand.RNG{}
	rng.Seed(5)
	img, _, err:=SimulateFe55(64, 32, 1, 1, 5, 1.0, 1600, 0, 5, rng)
	if err!=nil { t.Fatal(err) }

	p:=testFe55Params()
	p.Fit.MaxNpix=4
	seg:=Segment{Width:64, Height:32}
	fits, st, err:=FitAmp(img.Data, seg, p, rng)
	if err!=nil { t.Fatal(err) }
	if len(fits)!=0 || st.Accepted!=0 { t.Errorf("expected no accepted fits with maxNpix 4, got %d", len(fits)) }
	if st.RejectedSize!=st.Footprints || st.Footprints<5 { t.Errorf("expected all footprints rejected by size, got %s", st) }

	if _, _, err:=FitAmp(make([]float32, 64*32), seg, p, rng); err==nil { t.Errorf("expected error for zero-noise amplifier") }
}

func TestFitAmpCountsNonConvergence(t *testing.T) {
	rng:=&fastrand.RNG{}
	rng.Seed(5)
	img, _, err:=SimulateFe55(64, 32, 1, 1, 5, 1.0, 1600, 0, 5, rng)
	if err!=nil { t.Fatal(err) }

	withSolver(t, panickingSolver)
	fits, st, err:=FitAmp(img.Data, Segment{Width:64, Height:32}, testFe55Params(), rng)
	if err!=nil { t.Fatal(err) }
	if len(fits)!=0 || st.Accepted!=0 { t.Errorf("expected no accepted fits, got %d", len(fits)) }
	if st.NoConverge==0 || st.NoConverge!=st.Footprints-st.RejectedSize { t.Errorf("expected all sized footprints to fail to converge, got %s", st) }
}

// Same frames and per-frame sampling as the fe55 command on seed 23, whose clusters include
// footprints the solver cannot step from
func TestFitExposureSurvivesSolverFailures(t *testing.T) {
	rng:=&fastrand.RNG{}
	rng.Seed(23)
	bias:=SimulateBias(128, 64, 1000, 5, rng)
	p:=testFe55Params()
	for id:=0; id<2; id++ {
		img, truth, err:=SimulateFe55(128, 64, 2, 2, 8, 1.0, 1600, 1000, 5, rng)
		if err!=nil { t.Fatal(err) }
		if err:=SubtractBias(img, bias); err!=nil { t.Fatal(err) }

		frameRng:=&fastrand.RNG{}
		frameRng.Seed(uint32(id)+1)
		fits, st, err:=FitExposure(img, p, frameRng)
		if err!=nil { t.Fatalf("frame %d: %s", id, err) }
		if st.Footprints!=st.Accepted+st.RejectedSize+st.NoConverge+st.PoorFit { t.Errorf("frame %d: inconsistent stats %s", id, st) }
		numTrue:=0
		for _, tr:=range truth { numTrue+=len(tr) }
		if len(fits)<numTrue*3/4 { t.Errorf("frame %d: expected at least %d accepted clusters got %d (%s)", id, numTrue*3/4, len(fits), st) }
	}
}

func TestAmpHistograms(t *testing.T) {
	fits:=ClusterFits{
		{Amp:0, Params:PSFParams{SigmaX:0.5, DNTot:1600}},
		{Amp:0, Params:PSFParams{SigmaX:0.7, DNTot:1500}},
		{Amp:1, Params:PSFParams{SigmaX:0.9, DNTot:1700}},
	}
	hists:=AmpHistograms(fits, 3, DefaultFe55Bins())
	if len(hists)!=3 { t.Fatalf("expected 3 amps got %d", len(hists)) }
	count:=func(h *HistStats) float64 {
		n:=0.0
		for _, c:=range h.Counts { n+=c }
		return n
	}
	if n:=count(hists[0]["sigmax"]); n!=2 { t.Errorf("amp 0: expected 2 sigmax entries got %g", n) }
	if n:=count(hists[1]["dn"]); n!=1 { t.Errorf("amp 1: expected 1 dn entry got %g", n) }
	if n:=count(hists[2]["chiprob"]); n!=0 { t.Errorf("amp 2: expected empty histogram got %g", n) }
}

func TestCmdFe55WritesResults(t *testing.T) {
	dir:=t.TempDir()
	rng:=&fastrand.RNG{}
	rng.Seed(23)

	bias:=SimulateBias(128, 64, 1000, 5, rng)
	biasName:=filepath.Join(dir, "bias.fits")
	if err:=bias.WriteFile(biasName); err!=nil { t.Fatal(err) }
	names:=[]string{}
	for i:=0; i<2; i++ {
		img, _, err:=SimulateFe55(128, 64, 2, 2, 8, 1.0, 1600, 1000, 5, rng)
		if err!=nil { t.Fatal(err) }
		name:=filepath.Join(dir, "fe55-"+string(rune('a'+i))+".fits")
		if err:=img.WriteFile(name); err!=nil { t.Fatal(err) }
		names=append(names, name)
	}

	p:=testFe55Params()
	p.Bias =biasName
	p.Table=filepath.Join(dir, "clusters.fits")
	p.Hist =filepath.Join(dir, "hists.yml")
	p.Plot =filepath.Join(dir, "fe55_%s.png")
	frames, err:=CmdFe55(names, p)
	if err!=nil { t.Fatal(err) }
	if len(frames)!=2 { t.Fatalf("expected 2 frames got %d", len(frames)) }

	back, err:=ReadClusterTable(p.Table)
	if err!=nil { t.Fatal(err) }
	if len(back)!=len(frames) { t.Fatalf("expected %d frames in table got %d", len(frames), len(back)) }
	for i:=range frames {
		if back[i].Frame!=frames[i].Frame || len(back[i].Fits)!=len(frames[i].Fits) {
			t.Fatalf("frame %d: expected %d fits got %d", i, len(frames[i].Fits), len(back[i].Fits))
		}
		for j, cf:=range frames[i].Fits {
			got:=back[i].Fits[j]
			if got.Params!=cf.Params || got.Amp!=cf.Amp || got.Npix!=cf.Npix || got.Dof!=cf.Dof || got.ChiProb!=cf.ChiProb {
				t.Errorf("frame %d fit %d: expected %+v got %+v", i, j, cf, got)
			}
		}
	}

	for key:=range p.Bins {
		if _, err:=os.Stat(filepath.Join(dir, "fe55_"+key+".png")); err!=nil { t.Errorf("missing plot: %s", err) }
	}
	if _, err:=os.Stat(p.Hist); err!=nil { t.Errorf("missing histograms: %s", err) }
}

func TestCmdFe55SkipsUnreadableFrames(t *testing.T) {
	dir:=t.TempDir()
	rng:=&fastrand.RNG{}
	rng.Seed(29)
	img, _, err:=SimulateFe55(64, 64, 2, 2, 4, 1.0, 1600, 0, 5, rng)
	if err!=nil { t.Fatal(err) }
	good:=filepath.Join(dir, "good.fits")
	if err:=img.WriteFile(good); err!=nil { t.Fatal(err) }

	frames, err:=CmdFe55([]string{good, filepath.Join(dir, "missing.fits")}, testFe55Params())
	if err==nil { t.Errorf("expected error for missing frame") }
	if len(frames)!=1 || frames[0].Frame!=0 { t.Errorf("expected results for the readable frame only, got %d frames", len(frames)) }
}
