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

	"github.com/pbnjay/memory"
	"github.com/valyala/fastrand"
)


// Load bias frame from FITS file
func LoadBias(fileName string) (*FITSImage, error) {
	biasF:=&FITSImage{ID:-1}
	err:=biasF.ReadFile(fileName)
	if err!=nil { return nil, err }

	median, stdDev, err:=ClippedStats(biasF.Data, 3, 3, 100000, &fastrand.RNG{})
	if err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }
	LogPrintf("Bias %s %dx%d median %.4g noise %.4g\n", fileName, biasF.Naxisn[0], biasF.Naxisn[1], median, stdDev)
	if stdDev<1e-8 {
		LogPrintf("Warning: bias file may be degenerate\n")
	}
	return biasF, nil
}

// Load a single exposure and subtract the bias frame, if given
func PreProcessFrame(id int, fileName string, biasF *FITSImage) (*FITSImage, error) {
	light:=&FITSImage{ID:id}
	if err:=light.ReadFile(fileName); err!=nil { return nil, err }
	if biasF!=nil && biasF.Pixels>0 {
		if err:=SubtractBias(light, biasF); err!=nil { return nil, err }
	}
	for _, v:=range light.Data {
		if math.IsInf(float64(v), 0) { return nil, errors.New("image contains infinite values") }
	}
	return light, nil
}

// Limit parallelism so that jobs of the given size fit into half of the physical memory
func ParallelismForMemory(requested int, bytesPerJob int64) int {
	if requested<1 { requested=1 }
	if bytesPerJob<=0 { return requested }
	total:=memory.TotalMemory()
	if total==0 { return requested }
	fit:=int(int64(total/2)/bytesPerJob)
	if fit<1 { fit=1 }
	if fit<requested {
		LogPrintf("Limiting parallelism from %d to %d given %d MiB of memory and %d MiB per job\n", 
			      requested, fit, total/1024/1024, bytesPerJob/1024/1024)
		return fit
	}
	return requested
}
