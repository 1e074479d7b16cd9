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
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)


// A FITS image with float32 pixel data, row-major with Naxisn[0] columns
type FITSImage struct {
	ID       int
	FileName string
	Header   []fitsio.Card   // non-structural header cards
	Bitpix   int32
	Naxisn   []int32
	Pixels   int32
	Data     []float32
}

// Cards describing the data layout. These are regenerated when writing
var structuralKeys=map[string]bool{
	"SIMPLE":true, "BITPIX":true, "NAXIS":true, "NAXIS1":true, "NAXIS2":true, "NAXIS3":true, 
	"EXTEND":true, "BZERO":true, "BSCALE":true, "END":true, "XTENSION":true, "PCOUNT":true, "GCOUNT":true,
}

// Create an image of the given size with zeroed data
func NewFITSImage(width, height int32) *FITSImage {
	return &FITSImage{
		Bitpix:-32,
		Naxisn:[]int32{width, height},
		Pixels:width*height,
		Data  :make([]float32, int(width)*int(height)),
	}
}

// Read the first two-dimensional image HDU of a FITS file
func (f *FITSImage) ReadFile(fileName string) error {
	r, err:=os.Open(fileName)
	if err!=nil { return err }
	defer r.Close()

	fits, err:=fitsio.Open(r)
	if err!=nil { return fmt.Errorf("%s: %w", fileName, err) }
	defer fits.Close()

	var img fitsio.Image
	for _, hdu:=range fits.HDUs() {
		if i, ok:=hdu.(fitsio.Image); ok && len(i.Header().Axes())==2 {
			img=i
			break
		}
	}
	if img==nil { return fmt.Errorf("%s: no two-dimensional image found", fileName) }

	hdr:=img.Header()
	axes:=hdr.Axes()
	f.FileName=fileName
	f.Bitpix  =int32(hdr.Bitpix())
	f.Naxisn  =[]int32{int32(axes[0]), int32(axes[1])}
	f.Pixels  =int32(axes[0]*axes[1])
	f.Header  =nil
	for _, key:=range hdr.Keys() {
		if structuralKeys[key] { continue }
		if c:=hdr.Get(key); c!=nil { f.Header=append(f.Header, *c) }
	}

	bzero, bscale:=0.0, 1.0
	if c:=hdr.Get("BZERO" ); c!=nil { bzero, _ =cardFloat(c.Value) }
	if c:=hdr.Get("BSCALE"); c!=nil { bscale, _=cardFloat(c.Value) }
	f.Data, err=decodeRaw(img.Raw(), hdr.Bitpix(), int(f.Pixels), bzero, bscale)
	if err!=nil { return fmt.Errorf("%s: %w", fileName, err) }
	return nil
}

// Decode big-endian FITS pixel data and apply the linear scaling
func decodeRaw(raw []byte, bitpix int, n int, bzero, bscale float64) ([]float32, error) {
	size:=bitpix/8
	if size<0 { size=-size }
	if size==0 || len(raw)<n*size { 
		return nil, fmt.Errorf("raw data too short: %d bytes for %d pixels of bitpix %d", len(raw), n, bitpix) 
	}
	data:=make([]float32, n)
	be:=binary.BigEndian
	for i:=range data {
		b:=raw[i*size:]
		var v float64
		switch bitpix {
			case   8: v=float64(b[0])
			case  16: v=float64(int16(be.Uint16(b)))
			case  32: v=float64(int32(be.Uint32(b)))
			case  64: v=float64(int64(be.Uint64(b)))
			case -32: v=float64(math.Float32frombits(be.Uint32(b)))
			case -64: v=math.Float64frombits(be.Uint64(b))
			default : return nil, fmt.Errorf("unsupported bitpix %d", bitpix)
		}
		data[i]=float32(v*bscale+bzero)
	}
	return data, nil
}

// Write the image as 32-bit float FITS file, including header cards
func (f *FITSImage) WriteFile(fileName string) (err error) {
	if len(f.Naxisn)!=2 || len(f.Data)!=int(f.Naxisn[0])*int(f.Naxisn[1]) {
		return errors.New("image dimensions do not match data")
	}
	w, err:=os.Create(fileName)
	if err!=nil { return err }
	defer func() { 
		if e:=w.Close(); err==nil { err=e } 
	}()

	fits, err:=fitsio.Create(w)
	if err!=nil { return err }
	defer func() { 
		if e:=fits.Close(); err==nil { err=e } 
	}()

	im:=fitsio.NewImage(-32, []int{int(f.Naxisn[0]), int(f.Naxisn[1])})
	defer im.Close()
	if len(f.Header)>0 {
		if err=im.Header().Append(f.Header...); err!=nil { return err }
	}
	if err=im.Write(f.Data); err!=nil { return err }
	return fits.Write(im)
}

// Set or replace a header card
func (f *FITSImage) SetHeader(name string, value interface{}, comment string) {
	for i:=range f.Header {
		if f.Header[i].Name==name {
			f.Header[i].Value, f.Header[i].Comment=value, comment
			return
		}
	}
	f.Header=append(f.Header, fitsio.Card{Name:name, Value:value, Comment:comment})
}

func (f *FITSImage) headerValue(name string) (interface{}, bool) {
	for _, c:=range f.Header {
		if c.Name==name { return c.Value, true }
	}
	return nil, false
}

// Numeric header value
func (f *FITSImage) HeaderFloat(name string) (float64, error) {
	v, ok:=f.headerValue(name)
	if !ok { return 0, fmt.Errorf("%s: missing header card %s", f.FileName, name) }
	return cardFloat(v)
}

// Integer header value
func (f *FITSImage) HeaderInt(name string) (int, error) {
	v, err:=f.HeaderFloat(name)
	if err!=nil { return 0, err }
	return int(math.Round(v)), nil
}

// String header value, trimmed
func (f *FITSImage) HeaderString(name string) (string, error) {
	v, ok:=f.headerValue(name)
	if !ok { return "", fmt.Errorf("%s: missing header card %s", f.FileName, name) }
	return strings.TrimSpace(fmt.Sprint(v)), nil
}

func cardFloat(v interface{}) (float64, error) {
	switch x:=v.(type) {
		case int:     return float64(x), nil
		case int8:    return float64(x), nil
		case int16:   return float64(x), nil
		case int32:   return float64(x), nil
		case int64:   return float64(x), nil
		case uint8:   return float64(x), nil
		case float32: return float64(x), nil
		case float64: return x, nil
		case string:  return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("header value %v of type %T is not numeric", v, v)
}


// Rectangular amplifier segment of a detector image
type Segment struct {
	Index  int
	X0     int32
	Y0     int32
	Width  int32
	Height int32
}

// Split an image of the given size into rows x cols amplifier segments, numbered row-major
func AmpSegments(naxisn []int32, rows, cols int) ([]Segment, error) {
	if rows<1 || cols<1 { return nil, fmt.Errorf("invalid amp layout %dx%d", rows, cols) }
	w, h:=naxisn[0]/int32(cols), naxisn[1]/int32(rows)
	if w<1 || h<1 || naxisn[0]%int32(cols)!=0 || naxisn[1]%int32(rows)!=0 {
		return nil, fmt.Errorf("image size %v not divisible into %dx%d amps", naxisn, rows, cols)
	}
	segs:=make([]Segment, 0, rows*cols)
	for r:=0; r<rows; r++ {
		for c:=0; c<cols; c++ {
			segs=append(segs, Segment{Index:len(segs), X0:int32(c)*w, Y0:int32(r)*h, Width:w, Height:h})
		}
	}
	return segs, nil
}

// Copy of the pixel data within the segment, row-major with seg.Width columns
func (f *FITSImage) Cutout(seg Segment) []float32 {
	res:=make([]float32, int(seg.Width)*int(seg.Height))
	for y:=int32(0); y<seg.Height; y++ {
		src:=int(seg.Y0+y)*int(f.Naxisn[0]) + int(seg.X0)
		copy(res[int(y)*int(seg.Width):int(y+1)*int(seg.Width)], f.Data[src:src+int(seg.Width)])
	}
	return res
}

// Subtract the bias frame in place. This is the only instrument signature removal step applied
func SubtractBias(light, bias *FITSImage) error {
	if bias==nil { return nil }
	if !EqualInt32Slice(light.Naxisn, bias.Naxisn) {
		return fmt.Errorf("%s: size %v differs from bias size %v", light.FileName, light.Naxisn, bias.Naxisn)
	}
	for i, b:=range bias.Data {
		light.Data[i]-=b
	}
	return nil
}
