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
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/valyala/fastrand"
	"gopkg.in/yaml.v2"
)


// Fit Fe55 clusters on all given exposures, then write the cluster table, per-amp histograms and plots.
// Frames that fail to load are logged and skipped, their errors joined into the result
func CmdFe55(fileNames []string, p *Fe55Params) ([]FrameClusters, error) {
	if len(fileNames)==0 { return nil, errors.New("no input files") }
	runID:=uuid.New().String()
	LogPrintf("\nRun %s: fitting Fe55 clusters on %d frames with %s\n", runID, len(fileNames), p)

	var biasF *FITSImage
	if p.Bias!="" {
		var err error
		if biasF, err=LoadBias(p.Bias); err!=nil { return nil, err }
	}

	// each job holds the frame, its amp cutouts and the footprint mask
	bytesPerJob:=int64(0)
	if st, err:=os.Stat(fileNames[0]); err==nil { bytesPerJob=3*st.Size() }
	parallelism:=ParallelismForMemory(runtime.GOMAXPROCS(0), bytesPerJob)

	frames:=make([]FrameClusters, len(fileNames))
	ok    :=make([]bool, len(fileNames))
	errs  :=[]error{}
	total :=&FitStats{}
	var mutex sync.Mutex

	sem:=make(chan bool, parallelism)
	for id, fileName:=range fileNames {
		sem <- true
		go func(id int, fileName string) {
			defer func() { <-sem }()
			fits, st, err:=fe55Frame(id, fileName, biasF, p)
			mutex.Lock()
			defer mutex.Unlock()
			if err!=nil {
				LogPrintf("%d: Error: %s\n", id, err.Error())
				errs=append(errs, fmt.Errorf("%s: %w", fileName, err))
				return
			}
			frames[id], ok[id]=FrameClusters{Frame:id, Fits:fits}, true
			total.Add(st)
		}(id, fileName)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}

	// drop failed frames
	o:=0
	for i:=range frames {
		if ok[i] { 
			frames[o]=frames[i]
			o++ 
		}
	}
	frames=frames[:o]
	LogPrintf("Total: %s\n", total)

	if err:=writeFe55Results(runID, fileNames, frames, p); err!=nil { return frames, err }
	return frames, errors.Join(errs...)
}

// Load, bias-subtract and fit one frame. Uses a private random number generator for sampling
func fe55Frame(id int, fileName string, biasF *FITSImage, p *Fe55Params) (ClusterFits, *FitStats, error) {
	light, err:=PreProcessFrame(id, fileName, biasF)
	if err!=nil { return nil, nil, err }
	rng:=&fastrand.RNG{}
	rng.Seed(uint32(id)+1)
	fits, st, err:=FitExposure(light, p, rng)
	if err!=nil { return nil, nil, err }
	LogPrintf("%d: %s %dx%d %s\n", id, fileName, light.Naxisn[0], light.Naxisn[1], st)
	return fits, st, nil
}

// Write table, histograms and plots as configured
func writeFe55Results(runID string, fileNames []string, frames []FrameClusters, p *Fe55Params) error {
	if p.Table!="" {
		LogPrintf("Writing cluster table to %s\n", p.Table)
		if err:=WriteClusterTable(p.Table, runID, fileNames, frames); err!=nil { return err }
	}

	all:=ClusterFits{}
	for _, fr:=range frames { all=append(all, fr.Fits...) }
	numAmps:=p.AmpRows*p.AmpCols
	hists:=AmpHistograms(all, numAmps, p.Bins)
	keys:=make([]string, 0, len(p.Bins))
	for key:=range p.Bins { keys=append(keys, key) }
	sort.Strings(keys)
	for amp, h:=range hists {
		line:=[]string{}
		for _, key:=range keys {
			if hs, ok:=h[key]; ok { line=append(line, fmt.Sprintf("%s %s", key, hs)) }
		}
		LogPrintf("amp %d: %s\n", amp, strings.Join(line, "; "))
	}

	if p.Hist!="" {
		LogPrintf("Writing histograms to %s\n", p.Hist)
		out, err:=yaml.Marshal(struct {
			RunID string                  `yaml:"runID"`
			Amps  []map[string]*HistStats `yaml:"amps"`
		}{runID, hists})
		if err!=nil { return err }
		if err=os.WriteFile(p.Hist, out, 0644); err!=nil { return err }
	}
	if p.Plot!="" {
		for _, key:=range keys {
			name:=fmt.Sprintf(p.Plot, key)
			LogPrintf("Writing %s histograms to %s\n", key, name)
			if err:=PlotAllAmps(hists, key, key, "count", name); err!=nil { return err }
		}
	}
	return nil
}
