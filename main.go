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

package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid"
	"github.com/mlnoga/ccdlab/internal"
	"github.com/pbnjay/memory"
)


// Version is typically injected via ldflags
var Version = "0.1.0"

var configFile = flag.String("config", internal.ConfigFileName, "load configuration from `file`")
var logFile    = flag.String("log", "", "save log output to `file`")

var repo       = flag.String("repo", "", "data repository `dir` for gain and simulate")
var ampRows    = flag.Int("ampRows", 0, "number of amplifier rows per detector")
var ampCols    = flag.Int("ampCols", 0, "number of amplifier columns per detector")

var bias       = flag.String("bias", "", "subtract bias frame `file` from Fe55 exposures")
var table      = flag.String("table", "", "write Fe55 cluster table to `file`")
var plotPat    = flag.String("plot", "", "write Fe55 histogram plots to `pattern` with %s for the quantity")
var hist       = flag.String("hist", "", "write Fe55 histograms to YAML `file`")
var variant    = flag.String("variant", "", "PSF fit variant, full or reduced")
var minNpix    = flag.Int("minNpix", 0, "minimum footprint size in pixels")
var maxNpix    = flag.Int("maxNpix", 0, "maximum footprint size in pixels")
var minProb    = flag.Float64("minProb", 0, "minimum goodness of fit probability")
var nSigma     = flag.Float64("nSigma", 0, "detection threshold in standard deviations above the median")

var detectors  = flag.String("detectors", "", "comma-separated detector `list` for gain")
var pool       = flag.Int("pool", 0, "worker pool size for gain")
var biasMode   = flag.String("biasMode", "", "bias selection for gain: shared, visit or none")
var out        = flag.String("out", "", "write gain results to YAML `file`")
var ptcPlot    = flag.String("ptcPlot", "", "write PTC plots to `pattern` with %d for the detector")

var seed       = flag.Uint("seed", 0, "random seed for simulate")

var port       = flag.Int("port", 0, "port for serve")
var results    = flag.String("results", "", "directory of result files for serve")


func main() {
	flag.Usage=func(){
		fmt.Fprintf(flag.CommandLine.Output(), `ccdlab %s characterizes CCD sensors from raw FITS exposures.

Usage: %s [-flag value] (fe55|gain|simulate|serve|mkconf|conf|version|help) [files...]

Commands:
  fe55      Fit Fe55 X-ray clusters on the given exposures
  gain      Measure photon transfer curve gains from flat pairs in the repository
  simulate  Write a synthetic repository with flats, bias and Fe55 frames
  serve     Serve the PSF API and result files via HTTP
  mkconf    Write the default configuration file
  conf      Print the effective configuration
  version   Print the version

Flags:
`, Version, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	args:=flag.Args()
	if len(args)<1 {
		flag.Usage()
		return
	}

	cfg, err:=internal.LoadConfig(*configFile)
	if err!=nil { internal.LogFatal(err) }
	if err=applyFlags(cfg); err!=nil { internal.LogFatal(err) }
	if cfg.LogFile!="" {
		if err=internal.LogAlsoToFile(cfg.LogFile); err!=nil { internal.LogFatalf("Unable to open logfile: %s\n", err) }
	}

	switch strings.ToLower(args[0]) {
	case "help":
		flag.Usage()
	case "version":
		fmt.Printf("ccdlab version %s\n", Version)
	case "mkconf":
		def:=internal.DefaultConfig()
		err=def.WriteFile(*configFile)
	case "conf":
		err=cfg.Write(os.Stdout)
	case "fe55":
		banner()
		fileNames, e:=internal.GlobFilenameWildcards(args[1:])
		if e!=nil { internal.LogFatal(e) }
		_, err=internal.CmdFe55(fileNames, &cfg.Fe55)
	case "gain":
		banner()
		_, err=internal.CmdGain(&cfg.Gain)
	case "simulate":
		banner()
		err=internal.CmdSimulate(&cfg.Simulate)
	case "serve":
		err=internal.CmdServe(&cfg.Serve)
	default:
		internal.LogFatalf("Unknown command '%s'\n\n", args[0])
	}
	if err!=nil { internal.LogFatal(err) }
	internal.LogAlsoToFile("")
}

// Log host information
func banner() {
	internal.LogPrintf("ccdlab %s on %s with %d physical and %d logical cores, %.1f GiB RAM\n",
		Version, cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores,
		float64(memory.TotalMemory())/(1<<30))
}

// Override configuration with flags given on the command line
func applyFlags(c *internal.Config) (err error) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log":       c.LogFile=*logFile
		case "repo":      c.Gain.Repo, c.Simulate.Repo=*repo, *repo
		case "ampRows":   c.Fe55.AmpRows, c.Gain.AmpRows, c.Simulate.AmpRows=*ampRows, *ampRows, *ampRows
		case "ampCols":   c.Fe55.AmpCols, c.Gain.AmpCols, c.Simulate.AmpCols=*ampCols, *ampCols, *ampCols
		case "bias":      c.Fe55.Bias=*bias
		case "table":     c.Fe55.Table=*table
		case "plot":      c.Fe55.Plot=*plotPat
		case "hist":      c.Fe55.Hist=*hist
		case "variant":   
			c.Fe55.Fit.VariantName=*variant
			if e:=c.Fe55.Fit.Resolve(); e!=nil { err=e }
		case "minNpix":   c.Fe55.Fit.MinNpix=*minNpix
		case "maxNpix":   c.Fe55.Fit.MaxNpix=*maxNpix
		case "minProb":   c.Fe55.Fit.MinProb=*minProb
		case "nSigma":    c.Fe55.Detect.NSigma=float32(*nSigma)
		case "detectors": 
			dets, e:=parseIntList(*detectors)
			if e!=nil { err=e }
			c.Gain.Detectors=dets
		case "pool":      c.Gain.PoolSize=*pool
		case "biasMode":  c.Gain.BiasMode=*biasMode
		case "out":       c.Gain.Output=*out
		case "ptcPlot":   c.Gain.Plot=*ptcPlot
		case "seed":      c.Simulate.Seed=uint32(*seed)
		case "port":      c.Serve.Port=*port
		case "results":   c.Serve.Results=*results
		}
	})
	return err
}

func parseIntList(s string) ([]int, error) {
	res:=[]int{}
	for _, f:=range strings.Split(s, ",") {
		f=strings.TrimSpace(f)
		if f=="" { continue }
		i, err:=strconv.Atoi(f)
		if err!=nil { return nil, fmt.Errorf("invalid detector list %q: %w", s, err) }
		res=append(res, i)
	}
	return res, nil
}
