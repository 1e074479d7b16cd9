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
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)


// No visits matched a repository query
var ErrNoVisits=errors.New("no matching visits")

// Bias frame selection
const (
	BiasShared ="shared"  // one master bias per detector
	BiasVisit  ="visit"   // one bias per visit and detector
	BiasNone   ="none"    // no bias subtraction
)

// Header cards describing raw exposures
const (
	CardVisit    ="VISIT"
	CardDetector ="DETECTOR"
	CardExpTime  ="EXPTIME"
	CardImgType  ="IMGTYPE"
	CardTestType ="TESTTYPE"
)

// Data repository of raw exposures and bias frames on disk:
//
//	<root>/raw/<visit>/det<NNN>.fits
//	<root>/bias/det<NNN>.fits
//	<root>/bias/<visit>/det<NNN>.fits
type Repo struct {
	Root string
}

// Open an existing repository
func OpenRepo(root string) (*Repo, error) {
	st, err:=os.Stat(filepath.Join(root, "raw"))
	if err!=nil { return nil, fmt.Errorf("repository %s: %w", root, err) }
	if !st.IsDir() { return nil, fmt.Errorf("repository %s: raw is not a directory", root) }
	return &Repo{Root:root}, nil
}

func detFileName(det int) string {
	return fmt.Sprintf("det%03d.fits", det)
}

// Path of the raw exposure for a visit and detector
func (r *Repo) RawPath(visit, det int) string {
	return filepath.Join(r.Root, "raw", strconv.Itoa(visit), detFileName(det))
}

// Path of the bias frame for a visit and detector, or "" if mode is BiasNone
func (r *Repo) BiasPath(visit, det int, mode string) (string, error) {
	switch mode {
		case BiasShared, "": return filepath.Join(r.Root, "bias", detFileName(det)), nil
		case BiasVisit:      return filepath.Join(r.Root, "bias", strconv.Itoa(visit), detFileName(det)), nil
		case BiasNone:       return "", nil
	}
	return "", fmt.Errorf("unknown bias mode %q", mode)
}

// Visits with exposures for the given detector whose image and test types match, sorted ascending. 
// Empty types match anything
func (r *Repo) QueryVisits(det int, imageType, testType string) ([]int, error) {
	matches, err:=filepath.Glob(filepath.Join(r.Root, "raw", "*", detFileName(det)))
	if err!=nil { return nil, err }

	visits:=[]int{}
	for _, m:=range matches {
		dir:=filepath.Base(filepath.Dir(m))
		visit, err:=strconv.Atoi(dir)
		if err!=nil { continue }  // not a visit directory

		f:=&FITSImage{}
		if err:=f.ReadFile(m); err!=nil { return nil, err }
		if !headerMatches(f, CardImgType, imageType) || !headerMatches(f, CardTestType, testType) { continue }
		visits=append(visits, visit)
	}
	if len(visits)==0 { return nil, fmt.Errorf("detector %d type %s/%s: %w", det, imageType, testType, ErrNoVisits) }
	sort.Ints(visits)
	return visits, nil
}

func headerMatches(f *FITSImage, card, want string) bool {
	if want=="" { return true }
	got, err:=f.HeaderString(card)
	return err==nil && strings.EqualFold(got, want)
}

// Load the raw exposure for a visit and detector
func (r *Repo) Raw(visit, det int) (*FITSImage, error) {
	f:=&FITSImage{ID:visit}
	if err:=f.ReadFile(r.RawPath(visit, det)); err!=nil { return nil, err }
	return f, nil
}

// Load the bias frame for a visit and detector, or nil if mode is BiasNone
func (r *Repo) Bias(visit, det int, mode string) (*FITSImage, error) {
	path, err:=r.BiasPath(visit, det, mode)
	if err!=nil || path=="" { return nil, err }
	f:=&FITSImage{ID:-1}
	if err:=f.ReadFile(path); err!=nil { return nil, err }
	return f, nil
}

// Exposure time of a raw frame in seconds
func ExposureTime(f *FITSImage) (float64, error) {
	return f.HeaderFloat(CardExpTime)
}
