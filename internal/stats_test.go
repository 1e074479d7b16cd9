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
	"testing"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat/distuv"
)


func clippedTestData() []float32 {
	data:=make([]float32, 0, 1010)
	for i:=0; i<1000; i++ {
		data=append(data, float32(100+(i*37)%11-5))
	}
	for i:=0; i<10; i++ {
		data=append(data, 10000)
	}
	return data
}

func TestClippedStatsRejectsOutliers(t *testing.T) {
	median, stdDev, err:=ClippedStats(clippedTestData(), 3, 3, 0, nil)
	if err!=nil { t.Fatal(err) }
	if math.Abs(median-100)>0.5 { t.Errorf("expected median 100 got %g", median) }
	if math.Abs(stdDev-math.Sqrt(10))>0.1 { t.Errorf("expected stdev %g got %g", math.Sqrt(10), stdDev) }

	// without clipping iterations the outliers inflate the estimate
	_, raw, err:=ClippedStats(clippedTestData(), 3, 0, 0, nil)
	if err!=nil { t.Fatal(err) }
	if raw<100 { t.Errorf("expected unclipped stdev above 100 got %g", raw) }
}

func TestClippedStatsSubsample(t *testing.T) {
	rng:=&fastrand.RNG{}
	rng.Seed(7)
	median, stdDev, err:=ClippedStats(clippedTestData(), 3, 3, 200, rng)
	if err!=nil { t.Fatal(err) }
	if math.Abs(median-100)>2 { t.Errorf("expected median near 100 got %g", median) }
	if stdDev>5 { t.Errorf("expected clipped stdev near 3 got %g", stdDev) }
}

func TestClippedStatsNaN(t *testing.T) {
	nan:=float32(math.NaN())
	if _, _, err:=ClippedStats([]float32{nan, nan}, 3, 3, 0, nil); err==nil { t.Errorf("expected error for all-NaN data") }
	median, _, err:=ClippedStats([]float32{1, nan, 3}, 3, 3, 0, nil)
	if err!=nil || median!=2 { t.Errorf("expected median 2 got %g err %v", median, err) }
}

func TestBinListsHistogram(t *testing.T) {
	values:=map[string][]float64{
		"sigmax": {-1, 0, 0.5, 1, 2, 3},
		"extra" : {1, 2, 3},
		"bad"   : {1},
	}
	bins:=map[string]BinSpec{
		"sigmax": {Min:0, Max:2, Bins:4},
		"bad"   : {Min:1, Max:1, Bins:4},
	}
	res:=BinLists(values, bins)
	if _, ok:=res["extra"]; ok { t.Errorf("expected key without bin spec to be skipped") }
	if _, ok:=res["bad"]; ok { t.Errorf("expected key with invalid bin spec to be skipped") }

	h:=res["sigmax"]
	if h==nil { t.Fatalf("missing histogram") }
	wantEdges:=[]float64{0, 0.5, 1, 1.5, 2}
	wantCounts:=[]float64{1, 1, 1, 1}
	for i:=range wantEdges {
		if math.Abs(h.Edges[i]-wantEdges[i])>1e-12 { t.Errorf("edge %d: expected %g got %g", i, wantEdges[i], h.Edges[i]) }
	}
	for i:=range wantCounts {
		if h.Counts[i]!=wantCounts[i] { t.Errorf("bin %d: expected %g got %g", i, wantCounts[i], h.Counts[i]) }
	}
	// mean and deviation cover all values, including those outside the range
	if math.Abs(h.Mean-5.5/6)>1e-12 { t.Errorf("expected mean %g got %g", 5.5/6, h.Mean) }
	if len(h.Centers())!=4 || h.Centers()[0]!=0.25 { t.Errorf("unexpected centers %v", h.Centers()) }
}

func TestBinListsEmptyList(t *testing.T) {
	res:=BinLists(map[string][]float64{"dn":{}}, map[string]BinSpec{"dn":{Min:0, Max:10, Bins:5}})
	h:=res["dn"]
	if h==nil { t.Fatalf("expected histogram for empty list") }
	for _, c:=range h.Counts {
		if c!=0 { t.Errorf("expected empty counts got %v", h.Counts) }
	}
	if h.Fit!=nil || h.Model()!=nil { t.Errorf("expected no fit for empty list") }
}

func TestBinListsGaussianFit(t *testing.T) {
	normal:=distuv.Normal{Mu:1, Sigma:0.2}
	const n=2000
	list:=make([]float64, n)
	for i:=range list {
		list[i]=normal.Quantile((float64(i)+0.5)/n)
	}
	h:=BinLists(map[string][]float64{"sigmax":list}, map[string]BinSpec{"sigmax":{Min:0, Max:2, Bins:40}})["sigmax"]
	if h.Fit==nil { t.Fatalf("expected gaussian fit") }
	if math.Abs(h.Fit[1]-1)>0.02 { t.Errorf("expected mu 1 got %g", h.Fit[1]) }
	if math.Abs(h.Fit[2]-0.2)>0.02 { t.Errorf("expected sigma 0.2 got %g", h.Fit[2]) }
	if math.Abs(h.Mean-1)>1e-3 || math.Abs(h.StdDev-0.2)>5e-3 { t.Errorf("unexpected mean %g stdev %g", h.Mean, h.StdDev) }
	if m:=h.Model(); len(m)!=40 { t.Errorf("expected model over 40 bins, got %d", len(m)) }
}

func TestFitGaussianRecovers(t *testing.T) {
	x:=make([]float64, 30)
	y:=make([]float64, 30)
	for i:=range x {
		x[i]=float64(i)*0.1
		y[i]=SingleGaussian(x[i], 50, 1.4, 0.3)
	}
	fit, err:=fitGaussian(x, y, []float64{40, 1.2, 0.5})
	if err!=nil { t.Fatal(err) }
	want:=[]float64{50, 1.4, 0.3}
	for i:=range want {
		if math.Abs(fit[i]-want[i])>1e-4*(1+want[i]) { t.Errorf("param %d: expected %g got %g", i, want[i], fit[i]) }
	}
	if _, err:=fitGaussian(x[:2], y[:2], []float64{1, 1, 1}); err==nil { t.Errorf("expected error for too few bins") }
}

func TestBinListsFlatHistogram(t *testing.T) {
	h:=BinLists(map[string][]float64{"dn":{0.25, 0.75, 1.25, 1.75}}, map[string]BinSpec{"dn":{Min:0, Max:2, Bins:4}})["dn"]
	if h==nil { t.Fatalf("missing histogram") }
	for i, c:=range h.Counts {
		if c!=1 { t.Errorf("bin %d: expected 1 got %g", i, c) }
	}
	if h.Fit!=nil && len(h.Fit)!=3 { t.Errorf("unexpected fit %v", h.Fit) }
}

func TestFitGaussianSolverPanic(t *testing.T) {
	withSolver(t, panickingSolver)
	x:=[]float64{0.5, 1.5, 2.5, 3.5}
	y:=[]float64{1, 4, 4, 1}
	if fit, err:=fitGaussian(x, y, []float64{4, 2, 1}); err==nil || fit!=nil { t.Errorf("expected error without fit, got %v %v", fit, err) }

	h:=BinLists(map[string][]float64{"dn":{0.5, 1.5, 1.6, 2.5}}, map[string]BinSpec{"dn":{Min:0, Max:4, Bins:4}})["dn"]
	if h==nil || h.Fit!=nil { t.Errorf("expected histogram without fit, got %v", h) }
	if h!=nil && h.Counts[1]!=2 { t.Errorf("expected 2 counts in bin 1 got %g", h.Counts[1]) }
}

func TestGaussianStartUsesPeakCount(t *testing.T) {
	p0:=gaussianStart([]float64{-5, 1, 2, 3, 50}, BinSpec{Min:0, Max:4, Bins:4}, []float64{0, 1, 1, 1})
	if p0==nil { t.Fatalf("expected starting point") }
	if p0[0]!=1 || p0[1]!=2 || math.Abs(p0[2]-math.Sqrt(2.0/3))>1e-12 { t.Errorf("unexpected start %v", p0) }
	if gaussianStart([]float64{-1, 7}, BinSpec{Min:0, Max:4, Bins:4}, []float64{0, 0, 0, 0})!=nil {
		t.Errorf("expected no start without in-range values")
	}
}
