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
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
)


func testRouter(t *testing.T) (*gin.Engine, *ServeParams) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gin.DefaultWriter=&bytes.Buffer{}
	dir:=t.TempDir()
	p:=&ServeParams{Results:dir, Gains:filepath.Join(dir, "det_data.yml"), Table:filepath.Join(dir, "clusters.fits")}
	return NewRouter(p), p
}

func serve(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body!=nil { json.NewEncoder(&buf).Encode(body) }
	req, _:=http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w:=httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPingRoute(t *testing.T) {
	r, _:=testRouter(t)
	w:=serve(r, "GET", "/api/v1/ping", nil)
	if w.Code!=http.StatusOK { t.Fatalf("expected 200 got %d", w.Code) }
	if !bytes.Contains(w.Body.Bytes(), []byte("pong")) { t.Errorf("unexpected body %s", w.Body.String()) }
}

func TestModelRoute(t *testing.T) {
	r, _:=testRouter(t)
	body:=modelRequest{Positions:[]Point{{0, 0}, {1, 0}}, Params:PSFParams{SigmaX:1, SigmaY:1, DNTot:1000, C:10}}
	w:=serve(r, "POST", "/api/v1/psf/model", body)
	if w.Code!=http.StatusOK { t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String()) }
	res:=struct{ Model []float64 `json:"model"` }{}
	if err:=json.Unmarshal(w.Body.Bytes(), &res); err!=nil { t.Fatal(err) }
	if len(res.Model)!=2 || math.Abs(res.Model[0]-156.631496)>1e-4 { t.Errorf("unexpected model %v", res.Model) }

	body.Params.SigmaY=0
	if w:=serve(r, "POST", "/api/v1/psf/model", body); w.Code!=http.StatusBadRequest { t.Errorf("expected 400 for zero sigma, got %d", w.Code) }
	if w:=serve(r, "POST", "/api/v1/psf/model", map[string]int{"x":1}); w.Code!=http.StatusBadRequest { t.Errorf("expected 400 without positions, got %d", w.Code) }
}

func TestFitRoute(t *testing.T) {
	r, _:=testRouter(t)
	truth:=PSFParams{X0:0.2, Y0:-0.3, SigmaX:1.1, SigmaY:1.1, DNTot:1600, C:50}
	pts:=gridPoints(-3, 3, -3, 3)
	model:=PSFModelWithBackground(pts, truth)
	pix:=make([]Pixel, len(pts))
	for i:=range pts { pix[i]=Pixel{Point:pts[i], DN:model[i], Noise:1} }

	w:=serve(r, "POST", "/api/v1/psf/fit", fitRequest{Pixels:pix, Variant:"reduced"})
	if w.Code!=http.StatusOK { t.Fatalf("expected 200 got %d: %s", w.Code, w.Body.String()) }
	res:=fitResponse{}
	if err:=json.Unmarshal(w.Body.Bytes(), &res); err!=nil { t.Fatal(err) }
	if math.Abs(res.Params.X0-truth.X0)>1e-3 || math.Abs(res.Params.SigmaX-truth.SigmaX)>1e-3 || math.Abs(res.Params.DNTot-truth.DNTot)>1 {
		t.Errorf("expected %s got %s", truth, res.Params)
	}
	if res.Dof!=len(pix)-7 { t.Errorf("expected dof %d got %d", len(pix)-7, res.Dof) }

	withSolver(t, panickingSolver)
	if w:=serve(r, "POST", "/api/v1/psf/fit", fitRequest{Pixels:pix}); w.Code!=http.StatusUnprocessableEntity {
		t.Errorf("expected 422 when the solver fails, got %d", w.Code)
	}

	if w:=serve(r, "POST", "/api/v1/psf/fit", fitRequest{Pixels:pix[:5]}); w.Code!=http.StatusBadRequest {
		t.Errorf("expected 400 for too few pixels, got %d", w.Code)
	}
	if w:=serve(r, "POST", "/api/v1/psf/fit", fitRequest{Pixels:pix, Variant:"triple"}); w.Code!=http.StatusBadRequest {
		t.Errorf("expected 400 for unknown variant, got %d", w.Code)
	}
}

func TestResultRoutes(t *testing.T) {
	r, p:=testRouter(t)
	if w:=serve(r, "GET", "/api/v1/gains", nil); w.Code!=http.StatusNotFound { t.Errorf("expected 404 for missing gains, got %d", w.Code) }
	if w:=serve(r, "GET", "/api/v1/clusters", nil); w.Code!=http.StatusNotFound { t.Errorf("expected 404 for missing table, got %d", w.Code) }

	if err:=WriteGains(p.Gains, &GainResults{RunID:"abc"}); err!=nil { t.Fatal(err) }
	w:=serve(r, "GET", "/api/v1/gains", nil)
	if w.Code!=http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("abc")) { t.Errorf("unexpected gains response %d %s", w.Code, w.Body.String()) }

	if err:=os.WriteFile(filepath.Join(p.Results, "plot.png"), []byte("png"), 0644); err!=nil { t.Fatal(err) }
	if w:=serve(r, "GET", "/plot.png", nil); w.Code!=http.StatusOK || w.Body.String()!="png" {
		t.Errorf("expected static file, got %d", w.Code)
	}
}
