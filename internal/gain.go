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
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)


// Parameters for photon transfer curve gain measurement from pairs of flats
type GainParams struct {
	Repo        string   `koanf:"repo"       yaml:"repo"`
	Detectors   []int    `koanf:"detectors"  yaml:"detectors"`
	PoolSize    int      `koanf:"poolSize"   yaml:"poolSize"`
	ExpTimeTol  float64  `koanf:"expTimeTol" yaml:"expTimeTol"`
	BiasMode    string   `koanf:"biasMode"   yaml:"biasMode"`
	ImageType   string   `koanf:"imageType"  yaml:"imageType"`
	TestType    string   `koanf:"testType"   yaml:"testType"`
	AmpRows     int      `koanf:"ampRows"    yaml:"ampRows"`
	AmpCols     int      `koanf:"ampCols"    yaml:"ampCols"`
	Output      string   `koanf:"output"     yaml:"output"`
	Plot        string   `koanf:"plot"       yaml:"plot"`
}

func (p *GainParams) String() string {
	return fmt.Sprintf("repo %s detectors %v poolSize %d expTimeTol %.3g biasMode %s type %s/%s amps %dx%d "+
		               "output %s plot %s",
		               p.Repo, p.Detectors, p.PoolSize, p.ExpTimeTol, p.BiasMode, p.ImageType, p.TestType,
		               p.AmpRows, p.AmpCols, p.Output, p.Plot)
}

// Per-amplifier measurements, keyed by the first visit of each flat pair
type AmpGains struct {
	Gain           map[int]float64 `yaml:"gain"            json:"gain"`
	ExpTime        map[int]float64 `yaml:"exp_time"        json:"exp_time"`
	MeanBrightness map[int]float64 `yaml:"mean_brightness" json:"mean_brightness"`
}

func newAmpGains() *AmpGains {
	return &AmpGains{Gain:map[int]float64{}, ExpTime:map[int]float64{}, MeanBrightness:map[int]float64{}}
}

// Gain measurements of all amplifiers of one detector
type DetectorGain struct {
	Detector int               `yaml:"detector" json:"detector"`
	Amps     map[int]*AmpGains `yaml:"amps"     json:"amps"`
}

// Gain results of a run, as written to disk
type GainResults struct {
	RunID     string                `yaml:"runID"     json:"runID"`
	Detectors map[int]*DetectorGain `yaml:"detectors" json:"detectors"`
}


// Gain in electrons per DN from two bias-subtracted flats of equal exposure, using 
// 1/g = <(I1-I2)^2/(I1+I2)>, and the mean brightness <I1+I2>/2. Non-finite pixels are skipped
func PairGain(im1, im2 []float32) (gain, meanBrightness float64, err error) {
	if len(im1)!=len(im2) { return 0, 0, fmt.Errorf("pair sizes differ: %d vs %d", len(im1), len(im2)) }
	sumQ, nQ, sumS, nS:=0.0, 0, 0.0, 0
	for i:=range im1 {
		a, b:=float64(im1[i]), float64(im2[i])
		s, d:=a+b, a-b
		if !math.IsNaN(s) && !math.IsInf(s, 0) { 
			sumS+=s
			nS++
		}
		q:=d*d/s
		if !math.IsNaN(q) && !math.IsInf(q, 0) {
			sumQ+=q
			nQ++
		}
	}
	if nQ==0 || nS==0 { return 0, 0, errors.New("no valid pixels in flat pair") }
	meanQ:=sumQ/float64(nQ)
	if meanQ==0 { return 0, 0, errors.New("flat pair has no variance") }
	return 1/meanQ, sumS/float64(nS)/2, nil
}

// Measure gains on all consecutive flat pairs of a detector. Pairs whose exposure times differ by 
// more than the tolerance are skipped
func DetectorGains(r *Repo, det int, p *GainParams) (*DetectorGain, error) {
	visits, err:=r.QueryVisits(det, p.ImageType, p.TestType)
	if err!=nil { return nil, err }

	res:=&DetectorGain{Detector:det, Amps:map[int]*AmpGains{}}
	biases:=map[int]*FITSImage{}
	numPairs:=len(visits)/2
	for i:=0; i+1<len(visits); i+=2 {
		visit1, visit2:=visits[i], visits[i+1]
		raw1, raw2, err:=loadPair(r, visit1, visit2, det)
		if err!=nil { return nil, err }

		time1, err:=ExposureTime(raw1)
		if err!=nil { return nil, err }
		time2, err:=ExposureTime(raw2)
		if err!=nil { return nil, err }
		if math.Abs(time1-time2)>p.ExpTimeTol {
			LogPrintf("%d: Skipping visits %d,%d with mismatched exposure times %gs and %gs\n", det, visit1, visit2, time1, time2)
			continue
		}

		for k, raw:=range []*FITSImage{raw1, raw2} {
			bias, err:=loadBias(r, biases, raw.ID, det, p.BiasMode)
			if err!=nil { return nil, err }
			if err=SubtractBias(raw, bias); err!=nil { return nil, fmt.Errorf("visit %d: %w", []int{visit1, visit2}[k], err) }
		}

		segs, err:=AmpSegments(raw1.Naxisn, p.AmpRows, p.AmpCols)
		if err!=nil { return nil, err }
		if !EqualInt32Slice(raw1.Naxisn, raw2.Naxisn) { 
			return nil, fmt.Errorf("visits %d,%d differ in size", visit1, visit2) 
		}
		for _, seg:=range segs {
			gain, mean, err:=PairGain(raw1.Cutout(seg), raw2.Cutout(seg))
			if err!=nil { return nil, fmt.Errorf("visits %d,%d amp %d: %w", visit1, visit2, seg.Index, err) }
			ag, ok:=res.Amps[seg.Index]
			if !ok { 
				ag=newAmpGains()
				res.Amps[seg.Index]=ag 
			}
			ag.Gain[visit1], ag.ExpTime[visit1], ag.MeanBrightness[visit1]=gain, time1, mean
		}
		LogPrintf("%d: pair %d of %d visits %d,%d exptime %gs %d amps\n", det, i/2+1, numPairs, visit1, visit2, time1, len(segs))
	}
	return res, nil
}

// Load both raw frames of a pair in parallel
func loadPair(r *Repo, visit1, visit2, det int) (raw1, raw2 *FITSImage, err error) {
	var err1, err2 error
	sem:=make(chan bool, 2)
	sem <- true
	go func() {
		defer func() { <-sem }()
		raw1, err1=r.Raw(visit1, det)
	}()
	sem <- true
	go func() {
		defer func() { <-sem }()
		raw2, err2=r.Raw(visit2, det)
	}()
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
	return raw1, raw2, errors.Join(err1, err2)
}

// Load a bias frame, reusing a shared bias once loaded
func loadBias(r *Repo, cache map[int]*FITSImage, visit, det int, mode string) (*FITSImage, error) {
	key:=visit
	if mode!=BiasVisit { key=-1 }
	if b, ok:=cache[key]; ok { return b, nil }
	b, err:=r.Bias(visit, det, mode)
	if err!=nil { return nil, err }
	cache[key]=b
	return b, nil
}

// Measure gains for all configured detectors on a fixed-size worker pool. Detectors complete 
// in any order. Errors are logged and joined; results of successful detectors are returned
func RunGains(r *Repo, p *GainParams, poolSize int) (map[int]*DetectorGain, error) {
	if poolSize<1 { poolSize=1 }
	results:=map[int]*DetectorGain{}
	errs   :=[]error{}
	var mutex sync.Mutex

	sem:=make(chan bool, poolSize)
	for _, det:=range p.Detectors {
		sem <- true
		go func(det int) {
			defer func() { <-sem }()
			dg, err:=DetectorGains(r, det, p)
			mutex.Lock()
			defer mutex.Unlock()
			if err!=nil {
				LogPrintf("%d: Error: %s\n", det, err.Error())
				errs=append(errs, fmt.Errorf("detector %d: %w", det, err))
				return
			}
			results[det]=dg
		}(det)
	}
	for i:=0; i<cap(sem); i++ {  // wait for goroutines to finish
		sem <- true
	}
	return results, errors.Join(errs...)
}


// Write gain results as YAML
func WriteGains(fileName string, res *GainResults) error {
	out, err:=yaml.Marshal(res)
	if err!=nil { return err }
	return os.WriteFile(fileName, out, 0644)
}

// Read gain results from YAML
func ReadGains(fileName string) (*GainResults, error) {
	in, err:=os.ReadFile(fileName)
	if err!=nil { return nil, err }
	res:=&GainResults{}
	if err=yaml.Unmarshal(in, res); err!=nil { return nil, fmt.Errorf("%s: %w", fileName, err) }
	return res, nil
}
