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
	"net/http"
	"os"

	"github.com/gin-gonic/contrib/static"
	"github.com/gin-gonic/gin"
)


// Request to evaluate the PSF model with background
type modelRequest struct {
	Positions []Point   `json:"positions" binding:"required"`
	Params    PSFParams `json:"params"`
}

// Request to fit the PSF model to pixels. Missing initial parameters are derived from the data
type fitRequest struct {
	Pixels  []Pixel    `json:"pixels" binding:"required"`
	Variant string     `json:"variant"`
	Init    *PSFParams `json:"init"`
}

type fitResponse struct {
	Params  PSFParams `json:"params"`
	ChiSq   float64   `json:"chi2"`
	Dof     int       `json:"dof"`
	ChiProb float64   `json:"chiprob"`
}

// Build the HTTP router for the API and static result files
func NewRouter(p *ServeParams) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// Serve result files, e.g. plots
	if p.Results!="" {
		r.Use(static.Serve("/", static.LocalFile(p.Results, true)))
	}

	api:=r.Group("/api/v1")
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	api.POST("/psf/model", postModel)
	api.POST("/psf/fit", postFit)
	api.GET("/gains", func(c *gin.Context) {
		res, err:=ReadGains(p.Gains)
		if err!=nil { 
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
	api.GET("/clusters", func(c *gin.Context) {
		frames, err:=ReadClusterTable(p.Table)
		if err!=nil { 
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, frames)
	})
	return r
}

func abortWithError(c *gin.Context, err error) {
	status:=http.StatusInternalServerError
	if errors.Is(err, os.ErrNotExist) { status=http.StatusNotFound }
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func postModel(c *gin.Context) {
	req:=modelRequest{}
	if err:=c.ShouldBindJSON(&req); err!=nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !(req.Params.SigmaX>0 && req.Params.SigmaY>0) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "sigmax and sigmay must be positive"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": PSFModelWithBackground(req.Positions, req.Params)})
}

func postFit(c *gin.Context) {
	req:=fitRequest{}
	if err:=c.ShouldBindJSON(&req); err!=nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	variant, err:=ParsePSFVariant(req.Variant)
	if err!=nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Pixels)<=variant.NumParams() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("need more than %d pixels", variant.NumParams())})
		return
	}

	start:=initialGuess(req.Pixels)
	if req.Init!=nil { start=*req.Init }
	fp:=DefaultFitParams()
	best, err:=FitPixels(req.Pixels, start, variant, fp.Iterations)
	if err!=nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	pos, dn, noise:=splitPixels(req.Pixels)
	res:=fitResponse{Params:best, ChiSq:ChiSquare(pos, dn, best, noise), Dof:len(req.Pixels)-variant.NumParams()}
	res.ChiProb=GoodnessOfFit(res.ChiSq, res.Dof)
	c.JSON(http.StatusOK, res)
}

// Start from the brightest pixel with default width, the summed flux and zero background
func initialGuess(pix []Pixel) PSFParams {
	fp:=DefaultFitParams()
	peak, sum:=pix[0], 0.0
	for _, q:=range pix {
		if q.DN>peak.DN { peak=q }
		sum+=q.DN
	}
	return PSFParams{X0:float64(peak.X), Y0:float64(peak.Y), SigmaX:fp.Sigma0, SigmaY:fp.Sigma0, DNTot:sum}
}

// Serve static web content and API endpoints via HTTP
func CmdServe(p *ServeParams) error {
	LogPrintf("Serving with %s\n", p)
	return NewRouter(p).Run(fmt.Sprintf(":%d", p.Port)) // listen and serve on 0.0.0.0:port
}
