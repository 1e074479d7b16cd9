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
	"os"
	"path/filepath"
	"testing"
)


func TestLoadConfigDefaults(t *testing.T) {
	c, err:=LoadConfig(filepath.Join(t.TempDir(), ConfigFileName))
	if err!=nil { t.Fatal(err) }
	if c.Fe55.Fit.Variant!=PSFFull || c.Fe55.Fit.MinNpix!=9 || c.Fe55.Fit.MaxNpix!=100 {
		t.Errorf("unexpected fit defaults %s", &c.Fe55.Fit)
	}
	if c.Fe55.Detect.NSigma!=5 || c.Fe55.AmpRows!=2 || c.Fe55.AmpCols!=8 { t.Errorf("unexpected fe55 defaults %s", &c.Fe55) }
	if len(c.Gain.Detectors)!=9 || c.Gain.BiasMode!=BiasShared { t.Errorf("unexpected gain defaults %s", &c.Gain) }
	if b, ok:=c.Fe55.Bins["dn"]; !ok || b.Bins!=60 || b.Max!=3000 { t.Errorf("unexpected dn bins %v", c.Fe55.Bins) }
	if c.Serve.Port!=8080 { t.Errorf("expected port 8080 got %d", c.Serve.Port) }
}

func TestLoadConfigOverrides(t *testing.T) {
	fileName:=filepath.Join(t.TempDir(), ConfigFileName)
	yml:=`
fe55:
  fit:
    variant: reduced
    minNpix: 12
  detect:
    nSigma: 4
gain:
  detectors: [1, 2]
  biasMode: visit
serve:
  port: 9090
`
	if err:=os.WriteFile(fileName, []byte(yml), 0644); err!=nil { t.Fatal(err) }
	c, err:=LoadConfig(fileName)
	if err!=nil { t.Fatal(err) }
	if c.Fe55.Fit.Variant!=PSFReduced || c.Fe55.Fit.MinNpix!=12 { t.Errorf("fit overrides not applied: %s", &c.Fe55.Fit) }
	if c.Fe55.Fit.MaxNpix!=100 { t.Errorf("expected default maxNpix to survive, got %d", c.Fe55.Fit.MaxNpix) }
	if c.Fe55.Detect.NSigma!=4 || c.Fe55.Detect.ClipIter!=3 { t.Errorf("unexpected detect params %s", &c.Fe55.Detect) }
	if len(c.Gain.Detectors)!=2 || c.Gain.Detectors[1]!=2 || c.Gain.BiasMode!=BiasVisit { t.Errorf("unexpected gain params %s", &c.Gain) }
	if c.Serve.Port!=9090 { t.Errorf("expected port 9090 got %d", c.Serve.Port) }
}

func TestLoadConfigInvalidVariant(t *testing.T) {
	fileName:=filepath.Join(t.TempDir(), ConfigFileName)
	if err:=os.WriteFile(fileName, []byte("fe55:\n  fit:\n    variant: triple\n"), 0644); err!=nil { t.Fatal(err) }
	if _, err:=LoadConfig(fileName); err==nil { t.Errorf("expected error for unknown variant") }
}

func TestConfigWriteRoundTrip(t *testing.T) {
	fileName:=filepath.Join(t.TempDir(), ConfigFileName)
	def:=DefaultConfig()
	def.Simulate.Seed=7
	def.Fe55.Fit.VariantName="reduced"
	if err:=def.WriteFile(fileName); err!=nil { t.Fatal(err) }

	c, err:=LoadConfig(fileName)
	if err!=nil { t.Fatal(err) }
	if c.Simulate.Seed!=7 || c.Fe55.Fit.Variant!=PSFReduced { t.Errorf("round trip lost values: seed %d variant %s", c.Simulate.Seed, c.Fe55.Fit.Variant) }
	if c.Simulate.Width!=def.Simulate.Width || c.Gain.ExpTimeTol!=def.Gain.ExpTimeTol { t.Errorf("round trip changed defaults") }
}
