package policy

import (
	"regexp"

	"github.com/dxcp/dxcp/internal/domain"
)

var versionPattern = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+(-[A-Za-z0-9.-]+)?$`)

// ValidateVersion reports whether v matches the required semver-like
// version format.
func ValidateVersion(v string) bool {
	return versionPattern.MatchString(v)
}

// ValidateEnvironment reports whether env is a supported environment.
// v1 supports exactly "sandbox".
func ValidateEnvironment(env string) bool {
	return env == "sandbox"
}

const maxArtifactBytes = 200 * 1024 * 1024

var allowedArtifactContentTypes = map[string]bool{
	"application/zip":  true,
	"application/gzip": true,
}

// ValidateArtifact checks ref's scheme against schemeAllow (default
// s3:// when empty), sizeBytes against the 200MB cap, and contentType
// against the fixed allowlist.
func ValidateArtifact(ref string, sizeBytes int64, contentType string, schemeAllow []string) *Violation {
	if len(schemeAllow) == 0 {
		schemeAllow = []string{"s3://"}
	}
	matched := false
	for _, scheme := range schemeAllow {
		if len(ref) >= len(scheme) && ref[:len(scheme)] == scheme {
			matched = true
			break
		}
	}
	if !matched {
		return violation(CodeInvalidArtifact, FailureCauseUserError, "artifact ref %q does not use an allowed scheme", ref)
	}
	if sizeBytes <= 0 || sizeBytes > maxArtifactBytes {
		return violation(CodeInvalidArtifact, FailureCauseUserError, "artifact size %d exceeds the 200MB limit", sizeBytes)
	}
	if !allowedArtifactContentTypes[contentType] {
		return violation(CodeInvalidArtifact, FailureCauseUserError, "artifact content type %q not allowed", contentType)
	}
	return nil
}

// DeploymentContext carries everything a pure admissibility decision for
// a DeploymentIntent needs; callers (domain services) are responsible
// for fetching it from the store before calling CheckDeploymentIntent.
type DeploymentContext struct {
	Principal domain.Principal
	Intent    domain.DeploymentIntent

	// Service is nil when the named service isn't allowlisted.
	Service *domain.Service
	// Group is nil when Service has no delivery group assigned.
	Group *domain.DeliveryGroup
	// Recipe is nil when the referenced recipe id doesn't exist.
	Recipe *domain.Recipe

	// BuildExists reports whether a Build record exists for
	// (Intent.Service, Intent.Version).
	BuildExists bool

	// ConcurrentNonTerminalExists reports whether a non-terminal
	// deployment already exists for (Group, Intent.Environment).
	ConcurrentNonTerminalExists bool

	// RecipeGuardrailTightenedSince, when true, tags a RECIPE_NOT_ALLOWED
	// refusal as POLICY_CHANGE instead of USER_ERROR: the recipe used to
	// be in the group's allowlist but was recently removed.
	RecipeGuardrailTightenedSince bool
}

// CheckDeploymentIntent runs the admission checks from role
// authorization through concurrency limits, in fixed order, and
// returns the first violation, or nil if the intent is admissible.
// Role/CI-only checks are the caller's responsibility via RequireRole
// before this is invoked, since they depend only on the Principal and
// the endpoint's role requirement, not on any fetched entity.
func CheckDeploymentIntent(ctx DeploymentContext) *Violation {
	if v := validateIntentSyntax(ctx.Intent); v != nil {
		return v
	}
	if ctx.Service == nil {
		return violation(CodeServiceNotAllowlisted, FailureCauseUserError, "service %q is not allowlisted", ctx.Intent.Service)
	}
	if ctx.Recipe == nil {
		return violation(CodeRecipeNotAllowed, FailureCauseUserError, "recipe %q does not exist", ctx.Intent.RecipeID)
	}
	if v := checkRecipeAllowedInGroup(ctx); v != nil {
		return v
	}
	if v := checkCapability(ctx); v != nil {
		return v
	}
	if !ctx.BuildExists {
		return violation(CodeVersionNotFound, FailureCauseUserError, "no build registered for %s@%s", ctx.Intent.Service, ctx.Intent.Version)
	}
	// Daily quota is checked by the caller via internal/limiter before
	// or after this function (it needs the store and the configured
	// cap, neither of which belongs in a pure policy decision) but is
	// listed here for documentation of step ordering: quota is step 12,
	// strictly before concurrency.
	if ctx.ConcurrentNonTerminalExists {
		return violation(CodeConcurrencyLimitReached, FailureCauseUserError, "a non-terminal deployment already exists for this delivery group and environment")
	}
	return nil
}

func validateIntentSyntax(intent domain.DeploymentIntent) *Violation {
	if intent.Service == "" || intent.RecipeID == "" {
		return violation(CodeInvalidRequest, FailureCauseUserError, "service and recipeId are required")
	}
	if !ValidateEnvironment(intent.Environment) {
		return violation(CodeInvalidEnvironment, FailureCauseUserError, "environment %q is not supported", intent.Environment)
	}
	if !ValidateVersion(intent.Version) {
		return violation(CodeInvalidVersionFormat, FailureCauseUserError, "version %q does not match the required format", intent.Version)
	}
	return nil
}

func checkRecipeAllowedInGroup(ctx DeploymentContext) *Violation {
	if ctx.Recipe.Status == domain.RecipeDeprecated {
		return violation(CodeRecipeNotAllowed, FailureCauseUserError, "recipe %q is deprecated", ctx.Recipe.ID)
	}
	if ctx.Group == nil {
		return violation(CodeRecipeNotAllowed, FailureCauseUserError, "service %q has no delivery group", ctx.Service.Name)
	}
	for _, allowed := range ctx.Group.AllowedRecipes {
		if allowed == ctx.Recipe.ID {
			return nil
		}
	}
	cause := FailureCauseUserError
	if ctx.RecipeGuardrailTightenedSince {
		cause = FailureCausePolicyChange
	}
	return violation(CodeRecipeNotAllowed, cause, "recipe %q is not allowed in delivery group %q", ctx.Recipe.ID, ctx.Group.ID)
}

func checkCapability(ctx DeploymentContext) *Violation {
	if len(ctx.Recipe.CompatibleServiceKinds) == 0 {
		return nil
	}
	for _, kind := range ctx.Recipe.CompatibleServiceKinds {
		if kind == ctx.Service.Kind {
			return nil
		}
	}
	return violation(CodeRecipeIncompatible, FailureCauseUserError, "recipe %q is not compatible with service kind %q", ctx.Recipe.ID, ctx.Service.Kind)
}

// RequireRole checks that the principal carries one of allowedRoles.
// If ciOnly is set, the principal must additionally match one of the
// publishers via CIPublisher.Matches.
func RequireRole(p domain.Principal, allowedRoles []string, ciOnly bool, publishers []domain.CIPublisher) *Violation {
	hasRole := false
	for _, role := range allowedRoles {
		if p.HasRole(role) {
			hasRole = true
			break
		}
	}
	if !hasRole {
		return violation(CodeRoleForbidden, FailureCauseUserError, "principal lacks a required role")
	}
	if ciOnly {
		matched := false
		for _, pub := range publishers {
			if pub.Matches(p) {
				matched = true
				break
			}
		}
		if !matched {
			return violation(CodeCIOnly, FailureCauseUserError, "principal does not match any configured CI publisher")
		}
	}
	return nil
}
