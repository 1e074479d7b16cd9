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
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
)


// Measure photon transfer curve gains for all configured detectors of the repository, then write the 
// results and plots. Results of failed detectors are missing, their errors joined into the result
func CmdGain(p *GainParams) (*GainResults, error) {
	r, err:=OpenRepo(p.Repo)
	if err!=nil { return nil, err }
	runID:=uuid.New().String()
	LogPrintf("\nRun %s: measuring PTC gains with %s\n", runID, p)

	// each job holds two raw frames and up to two bias frames
	bytesPerJob:=int64(0)
	if len(p.Detectors)>0 {
		matches, _:=filepath.Glob(filepath.Join(p.Repo, "raw", "*", detFileName(p.Detectors[0])))
		if len(matches)>0 {
			if st, err:=os.Stat(matches[0]); err==nil { bytesPerJob=4*st.Size() }
		}
	}
	poolSize:=ParallelismForMemory(p.PoolSize, bytesPerJob)

	dets, runErr:=RunGains(r, p, poolSize)
	debug.FreeOSMemory()
	res:=&GainResults{RunID:runID, Detectors:dets}

	for _, det:=range sortedKeys(dets) {
		dg:=dets[det]
		for _, amp:=range sortedKeys(dg.Amps) {
			gains:=[]float64{}
			for _, g:=range dg.Amps[amp].Gain { gains=append(gains, g) }
			median, _:=stats.Median(gains)
			LogPrintf("%d: amp %d median gain %.4g e-/DN over %d pairs\n", det, amp, median, len(gains))
		}
	}

	if p.Output!="" {
		LogPrintf("Writing gains to %s\n", p.Output)
		if err:=WriteGains(p.Output, res); err!=nil { return res, err }
	}
	if p.Plot!="" {
		for _, det:=range sortedKeys(dets) {
			name:=fmt.Sprintf(p.Plot, det)
			if err:=PlotPTC(dets[det], name); err!=nil { return res, err }
		}
	}
	return res, runErr
}

// Write a synthetic repository
func CmdSimulate(p *SimParams) error {
	LogPrintf("\nSimulating repository with %s\n", p)
	return Simulate(p)
}
