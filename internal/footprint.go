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
	"sort"
)


// Parameters for detecting source footprints on an amplifier segment
type DetectParams struct {
	NSigma     float32  `koanf:"nSigma"     yaml:"nSigma"`
	ClipSigma  float32  `koanf:"clipSigma"  yaml:"clipSigma"`
	ClipIter   int      `koanf:"clipIter"   yaml:"clipIter"`
	SampleSize int      `koanf:"sampleSize" yaml:"sampleSize"`
}

func (p *DetectParams) String() string {
	return fmt.Sprintf("nSigma %.2f clipSigma %.2f clipIter %d sampleSize %d",
		               p.NSigma, p.ClipSigma, p.ClipIter, p.SampleSize)
}

// Horizontal run of pixels [X0, X1] on row Y, both ends inclusive
type Span struct {
	Y  int
	X0 int
	X1 int
}

// Brightest pixel of a footprint
type Peak struct {
	X     int
	Y     int
	Value float32
}

// Connected set of pixels above the detection threshold. Fixed once extracted
type Footprint struct {
	Spans []Span
	Peak  Peak
	Area  int
}

// Pixel positions of the footprint in span order
func (fp *Footprint) Points() []Point {
	pts:=make([]Point, 0, fp.Area)
	for _, s:=range fp.Spans {
		for x:=s.X0; x<=s.X1; x++ {
			pts=append(pts, Point{x, s.Y})
		}
	}
	return pts
}


// Find 8-connected footprints of pixels at or above the threshold. Footprints are returned 
// in raster order of their first pixel, spans sorted by row then column. NaNs never match
func FindFootprints(data []float32, width int32, threshold float32) []Footprint {
	w:=int(width)
	if w<=0 || len(data)==0 { return nil }
	h:=len(data)/w
	visited:=make([]bool, len(data))
	fps:=[]Footprint{}
	stack:=[]int{}
	members:=[]int{}

	for start:=range data {
		if visited[start] || !(data[start]>=threshold) { continue }

		// flood fill from this seed
		members=members[:0]
		stack=append(stack[:0], start)
		visited[start]=true
		for len(stack)>0 {
			i:=stack[len(stack)-1]
			stack=stack[:len(stack)-1]
			members=append(members, i)
			x, y:=i%w, i/w
			for dy:=-1; dy<=1; dy++ {
				yy:=y+dy
				if yy<0 || yy>=h { continue }
				for dx:=-1; dx<=1; dx++ {
					xx:=x+dx
					if xx<0 || xx>=w || (dx==0 && dy==0) { continue }
					j:=yy*w+xx
					if !visited[j] && data[j]>=threshold {
						visited[j]=true
						stack=append(stack, j)
					}
				}
			}
		}
		fps=append(fps, newFootprint(data, w, members))
	}
	return fps
}

// Build a footprint from the raster indices of its member pixels
func newFootprint(data []float32, w int, members []int) Footprint {
	sort.Ints(members)
	fp:=Footprint{Area:len(members)}
	fp.Peak=Peak{X:members[0]%w, Y:members[0]/w, Value:data[members[0]]}
	for k, i:=range members {
		x, y:=i%w, i/w
		if data[i]>fp.Peak.Value { fp.Peak=Peak{X:x, Y:y, Value:data[i]} }
		if k>0 && members[k-1]==i-1 && (i-1)/w==y {
			fp.Spans[len(fp.Spans)-1].X1=x
		} else {
			fp.Spans=append(fp.Spans, Span{Y:y, X0:x, X1:x})
		}
	}
	return fp
}
