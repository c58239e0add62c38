package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jakekausler/campaign-manager/internal/branch"
	"github.com/jakekausler/campaign-manager/internal/cascade"
	"github.com/jakekausler/campaign-manager/internal/collaborators"
	"github.com/jakekausler/campaign-manager/internal/domain"
	"github.com/jakekausler/campaign-manager/internal/effect"
	"github.com/jakekausler/campaign-manager/internal/merge"
	"github.com/jakekausler/campaign-manager/internal/pgtx"
	"github.com/jakekausler/campaign-manager/internal/pubsub"
)

// server bundles every dependency handlers.go's routes need: a read-only
// engines bundle for GET routes, and the pieces withTx rebuilds per
// transaction for mutating routes.
type server struct {
	reads *engines

	pool        *pgtx.Pool
	invalidator *cascade.Invalidator
	dispatcher  *cascade.Dispatcher
	publisher   *pubsub.Publisher
	membership  collaborators.MembershipChecker
	audit       collaborators.AuditLogger
}

func registerRoutes(e *echo.Echo, s *server, jwtMW echo.MiddlewareFunc) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	api := e.Group("/api/v1", jwtMW)

	api.POST("/versions", s.createVersion)
	api.GET("/versions/:id", s.getVersion)

	api.POST("/branches", s.createBranch)
	api.GET("/branches/:id", s.getBranch)
	api.POST("/branches/:id/fork", s.forkBranch)
	api.DELETE("/branches/:id", s.deleteBranch)

	api.POST("/merges", s.executeMerge)
	api.POST("/cherry-picks", s.cherryPick)

	api.POST("/entities/:entityType/:entityId/resolve", s.resolveEntity)
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	return nil
}

type createVersionRequest struct {
	EntityType      domain.EntityType `json:"entityType"`
	EntityID        string            `json:"entityId"`
	BranchID        string            `json:"branchId"`
	ValidFrom       time.Time         `json:"validFrom"`
	ValidTo         *time.Time        `json:"validTo"`
	Payload         domain.Payload    `json:"payload"`
	ParentVersionID *string           `json:"parentVersionId"`
}

func (s *server) createVersion(c echo.Context) error {
	var req createVersionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}

	var v *domain.Version
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		var txErr error
		v, txErr = e.versions.CreateVersion(ctx, req.EntityType, req.EntityID, req.BranchID, req.ValidFrom, req.ValidTo, req.Payload, user.ID, req.ParentVersionID)
		return txErr
	})
	if err != nil {
		return httpError(err)
	}
	s.publisher.EntityChanged(c.Request().Context(), string(req.EntityType), req.EntityID, req.BranchID)
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{
		User: user, Action: "createVersion", EntityType: string(req.EntityType), EntityID: req.EntityID, After: v.Payload,
	})
	return c.JSON(http.StatusCreated, v)
}

func (s *server) getVersion(c echo.Context) error {
	v, err := s.reads.versions.GetVersion(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

type createBranchRequest struct {
	CampaignID  string     `json:"campaignId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ParentID    *string    `json:"parentId"`
	DivergedAt  *time.Time `json:"divergedAt"`
}

func (s *server) createBranch(c echo.Context) error {
	var req createBranchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}

	var b *domain.Branch
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		var txErr error
		b, txErr = e.branches.Create(ctx, branch.CreateParams{
			CampaignID: req.CampaignID, Name: req.Name, Description: req.Description,
			ParentID: req.ParentID, DivergedAt: req.DivergedAt,
		}, user.ID)
		return txErr
	})
	if err != nil {
		return httpError(err)
	}
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{User: user, Action: "createBranch", EntityType: "BRANCH", EntityID: b.ID, After: b})
	return c.JSON(http.StatusCreated, b)
}

func (s *server) getBranch(c echo.Context) error {
	b, err := s.reads.branches.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type forkBranchRequest struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	WorldTime   time.Time `json:"worldTime"`
}

func (s *server) forkBranch(c echo.Context) error {
	var req forkBranchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}

	var b *domain.Branch
	var copied int
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		var txErr error
		b, copied, txErr = e.branches.Fork(ctx, c.Param("id"), req.Name, req.Description, req.WorldTime, user.ID)
		return txErr
	})
	if err != nil {
		return httpError(err)
	}
	s.publisher.BranchForked(c.Request().Context(), c.Param("id"), b.ID)
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{User: user, Action: "forkBranch", EntityType: "BRANCH", EntityID: b.ID, After: b})
	return c.JSON(http.StatusCreated, map[string]interface{}{"branch": b, "entitiesCopied": copied})
}

func (s *server) deleteBranch(c echo.Context) error {
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}
	branchID := c.Param("id")
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		return e.branches.Delete(ctx, branchID, user.ID)
	})
	if err != nil {
		return httpError(err)
	}
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{User: user, Action: "deleteBranch", EntityType: "BRANCH", EntityID: branchID})
	return c.NoContent(http.StatusNoContent)
}

type executeMergeRequest struct {
	SourceBranchID   string                      `json:"sourceBranchId"`
	TargetBranchID   string                      `json:"targetBranchId"`
	CommonAncestorID string                      `json:"commonAncestorId"`
	WorldTime        time.Time                   `json:"worldTime"`
	Resolutions      []domain.ConflictResolution `json:"resolutions"`
}

func (s *server) executeMerge(c echo.Context) error {
	var req executeMergeRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}

	var result *merge.ExecuteMergeResult
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		var txErr error
		result, txErr = e.merges.ExecuteMerge(ctx, merge.ExecuteMergeParams{
			SourceBranchID: req.SourceBranchID, TargetBranchID: req.TargetBranchID,
			CommonAncestorID: req.CommonAncestorID, WorldTime: req.WorldTime,
			Resolutions: req.Resolutions, User: user.ID,
		})
		return txErr
	})
	if err != nil {
		return httpError(err)
	}
	for _, ref := range result.MergedEntities {
		s.publisher.EntityChanged(c.Request().Context(), string(ref.EntityType), ref.EntityID, req.TargetBranchID)
	}
	s.publisher.BranchMerged(c.Request().Context(), req.SourceBranchID, req.TargetBranchID)
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{User: user, Action: "executeMerge", EntityType: "BRANCH", EntityID: req.TargetBranchID, After: result})
	return c.JSON(http.StatusOK, result)
}

type cherryPickRequest struct {
	VersionID      string                      `json:"versionId"`
	TargetBranchID string                      `json:"targetBranchId"`
	Resolutions    []domain.ConflictResolution `json:"resolutions"`
}

func (s *server) cherryPick(c echo.Context) error {
	var req cherryPickRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}

	var result *merge.CherryPickResult
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		var txErr error
		result, txErr = e.merges.CherryPickVersion(ctx, merge.CherryPickParams{
			VersionID: req.VersionID, TargetBranchID: req.TargetBranchID,
			Resolutions: req.Resolutions, User: user.ID,
		})
		return txErr
	})
	if err != nil {
		return httpError(err)
	}
	if result.Success {
		s.publisher.EntityChanged(c.Request().Context(), string(result.Entity.EntityType), result.Entity.EntityID, req.TargetBranchID)
	}
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{User: user, Action: "cherryPick", EntityType: "BRANCH", EntityID: req.TargetBranchID, After: result})
	return c.JSON(http.StatusOK, result)
}

type resolveEntityRequest struct {
	BranchID   string `json:"branchId"`
	CampaignID string `json:"campaignId"`
}

func (s *server) resolveEntity(c echo.Context) error {
	var req resolveEntityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	user, err := authenticatedUser(c)
	if err != nil {
		return err
	}

	entityType := domain.EntityType(c.Param("entityType"))
	entityID := c.Param("entityId")

	var result *effect.ResolveResult
	err = s.withTx(c.Request().Context(), func(ctx context.Context, e *engines) error {
		var txErr error
		result, txErr = e.effects.ResolveEntity(ctx, effect.ResolveParams{
			EntityType: entityType,
			EntityID:   entityID,
			BranchID:   req.BranchID,
			CampaignID: req.CampaignID,
			User:       user,
		})
		return txErr
	})
	if err != nil {
		return httpError(err)
	}
	s.publisher.EntityChanged(c.Request().Context(), string(entityType), entityID, req.BranchID)
	s.audit.Log(c.Request().Context(), collaborators.AuditEntry{
		User: user, Action: "resolveEntity", EntityType: string(entityType), EntityID: entityID, After: result.Entity.Payload,
	})
	return c.JSON(http.StatusOK, result)
}
