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
	"io"
	"os"
	"sync"
)


var logWriter io.Writer = os.Stdout
var logFile   *os.File  = nil
var logMutex  sync.Mutex


// Additionally write all log output to the given file. Empty name disables the log file
func LogAlsoToFile(fileName string) error {
	logMutex.Lock()
	defer logMutex.Unlock()
	if logFile!=nil { 
		logFile.Close()
		logFile, logWriter=nil, os.Stdout
	}
	if fileName=="" { return nil }

	f, err:=os.Create(fileName)
	if err!=nil { return err }
	logFile, logWriter=f, io.MultiWriter(os.Stdout, f)
	return nil
}

// Redirect log output, e.g. for tests. Returns the previous writer
func LogSetWriter(w io.Writer) (prev io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	prev, logWriter=logWriter, w
	return prev
}

func LogPrintf(format string, a ...interface{}) {
	logMutex.Lock()
	defer logMutex.Unlock()
	fmt.Fprintf(logWriter, format, a...)
}

func LogPrintln(a ...interface{}) {
	logMutex.Lock()
	defer logMutex.Unlock()
	fmt.Fprintln(logWriter, a...)
}

func LogPrint(a ...interface{}) {
	logMutex.Lock()
	defer logMutex.Unlock()
	fmt.Fprint(logWriter, a...)
}

// Print to log and exit with status 1
func LogFatal(a ...interface{}) {
	LogPrintln(a...)
	logSync()
	os.Exit(1)
}

// Print formatted to log and exit with status 1
func LogFatalf(format string, a ...interface{}) {
	LogPrintf(format, a...)
	logSync()
	os.Exit(1)
}

func logSync() {
	logMutex.Lock()
	defer logMutex.Unlock()
	if logFile!=nil { logFile.Sync() }
}
