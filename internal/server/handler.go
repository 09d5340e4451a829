package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/labsync/labsync/internal/domain/catalog"
	"github.com/labsync/labsync/pkg/pagination"
)

func (s *Server) RegisterRoutes(api *echo.Group) {
	api.GET("/panels", s.ListPanels)
	api.GET("/panels/:code", s.GetPanel)
	api.GET("/services", s.ListServices)
	api.GET("/tests/:code", s.GetTest)
}

func (s *Server) ListPanels(c echo.Context) error {
	pg := pagination.FromContext(c)
	panels, total, err := s.catalog.ListPanels(c.Request().Context(),
		c.QueryParam("category"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(panels, total, pg.Limit, pg.Offset))
}

// panelDetail is the nested shape of a single-panel response.
type panelDetail struct {
	*catalog.Panel
	Materials    []*catalog.PanelMaterial  `json:"materials"`
	Tests        []*catalog.Test           `json:"tests"`
	Preanalytic  *catalog.PanelPreanalytic `json:"preanalytic,omitempty"`
	LinkedPanels []string                  `json:"linked_panels"`
}

func (s *Server) GetPanel(c echo.Context) error {
	ctx := c.Request().Context()

	panel, err := s.catalog.GetPanelByCode(ctx, c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if panel == nil {
		return echo.NewHTTPError(http.StatusNotFound, "panel not found")
	}

	detail := &panelDetail{Panel: panel}
	if detail.Materials, err = s.catalog.PanelMaterials(ctx, panel.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if detail.Tests, err = s.catalog.PanelTests(ctx, panel.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if detail.Preanalytic, err = s.catalog.PanelPreanalyticByPanel(ctx, panel.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if detail.LinkedPanels, err = s.catalog.LinkedPanelCodes(ctx, panel.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) ListServices(c echo.Context) error {
	pg := pagination.FromContext(c)
	services, total, err := s.pricing.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(services, total, pg.Limit, pg.Offset))
}

type testDetail struct {
	*catalog.Test
	Analytes []*catalog.Analyte `json:"analytes"`
}

func (s *Server) GetTest(c echo.Context) error {
	ctx := c.Request().Context()

	test, err := s.catalog.GetTestByCode(ctx, c.Param("code"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if test == nil {
		return echo.NewHTTPError(http.StatusNotFound, "test not found")
	}

	detail := &testDetail{Test: test}
	if detail.Analytes, err = s.catalog.AnalytesByTest(ctx, test.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, detail)
}
