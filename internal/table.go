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
	"os"

	"github.com/astrogo/fitsio"
)


// Column layout of the cluster table. Integer columns are 32 bit, all others 64 bit floats
var clusterTableCols=[]fitsio.Column{
	{Name:"FRAME"  , Format:"J"},
	{Name:"AMP"    , Format:"J"},
	{Name:"XPEAK"  , Format:"J"},
	{Name:"YPEAK"  , Format:"J"},
	{Name:"X0"     , Format:"D", Unit:"pixel"},
	{Name:"Y0"     , Format:"D", Unit:"pixel"},
	{Name:"SIGMAX" , Format:"D", Unit:"pixel"},
	{Name:"SIGMAY" , Format:"D", Unit:"pixel"},
	{Name:"DN"     , Format:"D", Unit:"DN"},
	{Name:"A"      , Format:"D"},
	{Name:"B"      , Format:"D"},
	{Name:"C"      , Format:"D", Unit:"DN"},
	{Name:"NPIX"   , Format:"J"},
	{Name:"DN_FP"  , Format:"D", Unit:"DN"},
	{Name:"MAXDN"  , Format:"D", Unit:"DN"},
	{Name:"CHI2"   , Format:"D"},
	{Name:"DOF"    , Format:"J"},
	{Name:"CHIPROB", Format:"D"},
}

// Cluster fits of one frame
type FrameClusters struct {
	Frame int
	Fits  ClusterFits
}

// Write cluster fits of all frames as FITS binary table, with the run id and input files in the primary header
func WriteClusterTable(fileName, runID string, fileNames []string, frames []FrameClusters) (err error) {
	w, err:=os.Create(fileName)
	if err!=nil { return err }
	defer func() { 
		if e:=w.Close(); err==nil { err=e } 
	}()

	f, err:=fitsio.Create(w)
	if err!=nil { return err }
	defer func() { 
		if e:=f.Close(); err==nil { err=e } 
	}()

	cards:=[]fitsio.Card{{Name:"RUNID", Value:runID, Comment:"run identifier"}}
	for i, name:=range fileNames {
		cards=append(cards, fitsio.Card{Name:fmt.Sprintf("FILE%d", i), Value:name})
	}
	phdu, err:=fitsio.NewPrimaryHDU(fitsio.NewHeader(cards, fitsio.IMAGE_HDU, 8, nil))
	if err!=nil { return err }
	defer phdu.Close()
	if err=f.Write(phdu); err!=nil { return err }

	tbl, err:=fitsio.NewTable("FE55", clusterTableCols, fitsio.BINARY_TBL)
	if err!=nil { return err }
	defer tbl.Close()
	for _, fr:=range frames {
		for _, c:=range fr.Fits {
			frame, amp, xpeak, ypeak:=int32(fr.Frame), int32(c.Amp), int32(c.XPeak), int32(c.YPeak)
			npix, dof:=int32(c.Npix), int32(c.Dof)
			p:=c.Params
			err=tbl.Write(&frame, &amp, &xpeak, &ypeak, &p.X0, &p.Y0, &p.SigmaX, &p.SigmaY, &p.DNTot, 
			              &p.A, &p.B, &p.C, &npix, &c.DNSum, &c.MaxDN, &c.ChiSq, &dof, &c.ChiProb)
			if err!=nil { return err }
		}
	}
	return f.Write(tbl)
}

// Read a cluster table written by WriteClusterTable
func ReadClusterTable(fileName string) ([]FrameClusters, error) {
	r, err:=os.Open(fileName)
	if err!=nil { return nil, err }
	defer r.Close()
	f, err:=fitsio.Open(r)
	if err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }
	defer f.Close()

	hdu:=f.Get("FE55")
	tbl, ok:=hdu.(*fitsio.Table)
	if !ok { return nil, fmt.Errorf("%s: no FE55 table", fileName) }
	rows, err:=tbl.Read(0, tbl.NumRows())
	if err!=nil { return nil, err }
	defer rows.Close()

	frames:=[]FrameClusters{}
	for rows.Next() {
		var frame, amp, xpeak, ypeak, npix, dof int32
		c:=&ClusterFit{}
		p:=&c.Params
		err=rows.Scan(&frame, &amp, &xpeak, &ypeak, &p.X0, &p.Y0, &p.SigmaX, &p.SigmaY, &p.DNTot,
		              &p.A, &p.B, &p.C, &npix, &c.DNSum, &c.MaxDN, &c.ChiSq, &dof, &c.ChiProb)
		if err!=nil { return nil, err }
		c.Amp, c.XPeak, c.YPeak, c.Npix, c.Dof=int(amp), int(xpeak), int(ypeak), int(npix), int(dof)
		if len(frames)==0 || frames[len(frames)-1].Frame!=int(frame) {
			frames=append(frames, FrameClusters{Frame:int(frame)})
		}
		frames[len(frames)-1].Fits=append(frames[len(frames)-1].Fits, c)
	}
	return frames, rows.Err()
}
