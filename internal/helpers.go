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
	"path/filepath"
	"sort"
)


// Turn filename wildcards into a sorted list of matching files
func GlobFilenameWildcards(args []string) ([]string, error) {
	fileNames:=[]string{}
	if args==nil { return fileNames, nil }
	
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err!=nil { return nil, err }
		sort.Strings(matches)
		fileNames=append(fileNames, matches...)
	}
	return fileNames, nil
}

// Helper: compare int32 slices for equality
func EqualInt32Slice(a, b []int32) bool {
	if len(a)!=len(b) { return false }
	for i, v:=range a {
		if v!=b[i] { return false }
	}
	return true
}

// Helper: sorted keys of an int-keyed map
func sortedKeys[V any](m map[int]V) []int {
	keys:=make([]int, 0, len(m))
	for k:=range m { keys=append(keys, k) }
	sort.Ints(keys)
	return keys
}
