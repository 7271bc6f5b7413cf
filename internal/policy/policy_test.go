package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dxcp/dxcp/internal/domain"
)

func validIntent() domain.DeploymentIntent {
	return domain.DeploymentIntent{
		Service:     "demo-service",
		Environment: "sandbox",
		Version:     "0.1.42",
		RecipeID:    "default",
	}
}

func baseContext() DeploymentContext {
	return DeploymentContext{
		Intent:      validIntent(),
		Service:     &domain.Service{Name: "demo-service", DeliveryGroupID: "group-a"},
		Group:       &domain.DeliveryGroup{ID: "group-a", AllowedRecipes: []string{"default"}},
		Recipe:      &domain.Recipe{ID: "default", Status: domain.RecipeActive},
		BuildExists: true,
	}
}

func TestCheckDeploymentIntentHappyPath(t *testing.T) {
	assert.Nil(t, CheckDeploymentIntent(baseContext()))
}

func TestCheckDeploymentIntentInvalidVersion(t *testing.T) {
	ctx := baseContext()
	ctx.Intent.Version = "not-a-version"
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeInvalidVersionFormat, v.Code)
}

func TestCheckDeploymentIntentInvalidEnvironment(t *testing.T) {
	ctx := baseContext()
	ctx.Intent.Environment = "prod"
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeInvalidEnvironment, v.Code)
}

func TestCheckDeploymentIntentServiceNotAllowlisted(t *testing.T) {
	ctx := baseContext()
	ctx.Service = nil
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeServiceNotAllowlisted, v.Code)
}

func TestCheckDeploymentIntentRecipeNotFound(t *testing.T) {
	ctx := baseContext()
	ctx.Recipe = nil
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeRecipeNotAllowed, v.Code)
}

func TestCheckDeploymentIntentRecipeDeprecated(t *testing.T) {
	ctx := baseContext()
	ctx.Recipe.Status = domain.RecipeDeprecated
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeRecipeNotAllowed, v.Code)
}

func TestCheckDeploymentIntentRecipeNotInGroupAllowlist(t *testing.T) {
	ctx := baseContext()
	ctx.Group.AllowedRecipes = []string{"other"}
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeRecipeNotAllowed, v.Code)
	assert.Equal(t, FailureCauseUserError, v.Cause)
}

func TestCheckDeploymentIntentRecipeNotInGroupAllowlistPolicyChange(t *testing.T) {
	ctx := baseContext()
	ctx.Group.AllowedRecipes = []string{"other"}
	ctx.RecipeGuardrailTightenedSince = true
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, FailureCausePolicyChange, v.Cause)
}

func TestCheckDeploymentIntentCapabilityMismatch(t *testing.T) {
	ctx := baseContext()
	ctx.Recipe.CompatibleServiceKinds = []string{"worker"}
	ctx.Service.Kind = "web"
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeRecipeIncompatible, v.Code)
}

func TestCheckDeploymentIntentCapabilityOrderPrecedesBuild(t *testing.T) {
	// Capability compatibility must be checked before build
	// registration existence.
	ctx := baseContext()
	ctx.Recipe.CompatibleServiceKinds = []string{"worker"}
	ctx.Service.Kind = "web"
	ctx.BuildExists = false
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeRecipeIncompatible, v.Code)
}

func TestCheckDeploymentIntentVersionNotFound(t *testing.T) {
	ctx := baseContext()
	ctx.BuildExists = false
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeVersionNotFound, v.Code)
}

func TestCheckDeploymentIntentConcurrencyLimit(t *testing.T) {
	ctx := baseContext()
	ctx.ConcurrentNonTerminalExists = true
	v := CheckDeploymentIntent(ctx)
	assert.Equal(t, CodeConcurrencyLimitReached, v.Code)
}

func TestValidateArtifactSchemeRejected(t *testing.T) {
	v := ValidateArtifact("http://bucket/key", 1024, "application/zip", nil)
	assert.Equal(t, CodeInvalidArtifact, v.Code)
}

func TestValidateArtifactSizeBoundary(t *testing.T) {
	assert.Nil(t, ValidateArtifact("s3://bucket/key", maxArtifactBytes, "application/zip", nil))
	v := ValidateArtifact("s3://bucket/key", maxArtifactBytes+1, "application/zip", nil)
	assert.Equal(t, CodeInvalidArtifact, v.Code)
}

func TestValidateArtifactContentType(t *testing.T) {
	v := ValidateArtifact("s3://bucket/key", 1024, "text/plain", nil)
	assert.Equal(t, CodeInvalidArtifact, v.Code)
}

func TestRequireRoleMissingRole(t *testing.T) {
	p := domain.Principal{Roles: []string{domain.RoleObserver}}
	v := RequireRole(p, []string{domain.RoleDeliveryOwner}, false, nil)
	assert.Equal(t, CodeRoleForbidden, v.Code)
}

func TestRequireRoleCIOnlyNoMatch(t *testing.T) {
	p := domain.Principal{Roles: []string{domain.RoleCIPublisher}, Issuer: "https://other"}
	pubs := []domain.CIPublisher{{Issuer: "https://ci"}}
	v := RequireRole(p, []string{domain.RoleCIPublisher}, true, pubs)
	assert.Equal(t, CodeCIOnly, v.Code)
}

func TestRequireRoleCIOnlyMatch(t *testing.T) {
	p := domain.Principal{Roles: []string{domain.RoleCIPublisher}, Issuer: "https://ci"}
	pubs := []domain.CIPublisher{{Issuer: "https://ci"}}
	assert.Nil(t, RequireRole(p, []string{domain.RoleCIPublisher}, true, pubs))
}
