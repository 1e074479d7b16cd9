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
	"image/color"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)


var dataColor  =colorful.Hsv(220, 0.8, 0.8)
var modelColor =colorful.Hsv(  0, 1.0, 0.9)

// Distinct colors for n series, evenly spaced in hue
func seriesPalette(n int) []color.Color {
	res:=make([]color.Color, n)
	for i:=range res {
		res[i]=colorful.Hsv(360*float64(i)/float64(n), 0.7, 0.85)
	}
	return res
}

// Histogram points with Poisson error bars
type histPoints struct {
	plotter.XYs
	plotter.YErrors
}

// Plot the histograms of one quantity for up to 16 amplifiers as a 4x4 grid and save as PNG. 
// Amplifier i goes to row i%4, column i/4. Fitted Gaussians are overlaid in red
func PlotAllAmps(hists []map[string]*HistStats, key, xlabel, ylabel, fileName string) error {
	const rows, cols=4, 4
	plots:=make([][]*plot.Plot, rows)
	for j:=range plots { 
		plots[j]=make([]*plot.Plot, cols)
		for i:=range plots[j] { plots[j][i]=plot.New() }
	}

	for i, amp:=range hists {
		if i>=rows*cols { 
			LogPrintf("Warning: plotting only the first %d of %d amps\n", rows*cols, len(hists))
			break 
		}
		indx, indy:=i%rows, i/rows
		p:=plots[indx][indy]
		p.Title.Text=fmt.Sprintf("amp %d", i)
		if indx==rows-1 { p.X.Label.Text=xlabel }
		if indy==0      { p.Y.Label.Text=ylabel }

		h, ok:=amp[key]
		if !ok || h==nil { continue }
		if err:=addHistogram(p, h); err!=nil { return err }
	}

	img:=vgimg.New(10*vg.Inch, 10*vg.Inch)
	dc :=draw.New(img)
	t  :=draw.Tiles{Rows:rows, Cols:cols, PadX:vg.Millimeter, PadY:vg.Millimeter, 
		            PadTop:vg.Points(2), PadBottom:vg.Points(2), PadLeft:vg.Points(2), PadRight:vg.Points(2)}
	canvases:=plot.Align(plots, t, dc)
	for j:=0; j<rows; j++ {
		for i:=0; i<cols; i++ {
			plots[j][i].Draw(canvases[j][i])
		}
	}
	return savePNG(img, fileName)
}

// Add a histogram with error bars and optional model curve to the plot
func addHistogram(p *plot.Plot, h *HistStats) error {
	centers:=h.Centers()
	pts:=histPoints{XYs:make(plotter.XYs, len(centers)), YErrors:make(plotter.YErrors, len(centers))}
	for i, x:=range centers {
		pts.XYs[i].X, pts.XYs[i].Y=x, h.Counts[i]
		e:=math.Sqrt(h.Counts[i])
		pts.YErrors[i].Low, pts.YErrors[i].High=e, e
	}
	line, err:=plotter.NewLine(pts.XYs)
	if err!=nil { return err }
	line.LineStyle.Color=dataColor
	line.LineStyle.Width=vg.Points(1)
	bars, err:=plotter.NewYErrorBars(pts)
	if err!=nil { return err }
	bars.LineStyle.Color=dataColor
	p.Add(line, bars)

	if model:=h.Model(); model!=nil {
		mxy:=make(plotter.XYs, len(model))
		for i:=range model {
			mxy[i].X, mxy[i].Y=centers[i], model[i]
		}
		ml, err:=plotter.NewLine(mxy)
		if err!=nil { return err }
		ml.LineStyle.Color=modelColor
		ml.LineStyle.Width=vg.Points(2)
		p.Add(ml)
	}
	return nil
}

// Plot gain over mean brightness for all amplifiers of a detector and save as PNG
func PlotPTC(dg *DetectorGain, fileName string) error {
	p:=plot.New()
	p.Title.Text  =fmt.Sprintf("detector %d", dg.Detector)
	p.X.Label.Text="mean brightness (DN)"
	p.Y.Label.Text="gain (e-/DN)"
	p.Legend.Top  =true

	amps   :=sortedKeys(dg.Amps)
	palette:=seriesPalette(len(amps))
	for k, amp:=range amps {
		ag:=dg.Amps[amp]
		visits:=sortedKeys(ag.Gain)
		xys:=make(plotter.XYs, len(visits))
		for i, v:=range visits {
			xys[i].X, xys[i].Y=ag.MeanBrightness[v], ag.Gain[v]
		}
		sc, err:=plotter.NewScatter(xys)
		if err!=nil { return err }
		sc.GlyphStyle.Color=palette[k]
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("amp %d", amp), sc)
	}
	return p.Save(8*vg.Inch, 6*vg.Inch, fileName)
}

func savePNG(img *vgimg.Canvas, fileName string) error {
	w, err:=os.Create(fileName)
	if err!=nil { return err }
	png:=vgimg.PngCanvas{Canvas:img}
	if _, err=png.WriteTo(w); err!=nil { 
		w.Close()
		return err 
	}
	return w.Close()
}
