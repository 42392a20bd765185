package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/gatekeeper/internal/models"
)

// Engine answers authorization questions for one user at a time. It combines
// the effective-permission calculator, the permission catalog's hierarchy and
// the effective-set cache; all collaborators are injected so tests can
// substitute deterministic fakes.
type Engine struct {
	users UserStore
	perms PermissionStore
	cache *EffectiveCache
	ttl   time.Duration
	log   *zap.Logger
	now   func() time.Time
}

// EngineOption customises the Engine.
type EngineOption func(*Engine)

// WithCacheTTL overrides the TTL used when caching effective sets.
func WithCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for override expiry.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger attaches a logger for infrastructure failures.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEngine constructs the decision engine. The cache is optional; without it
// every call recomputes the effective set from the stores.
func NewEngine(users UserStore, perms PermissionStore, cache *EffectiveCache, opts ...EngineOption) (*Engine, error) {
	if users == nil {
		return nil, errors.New("authz engine: user store is required")
	}
	if perms == nil {
		return nil, errors.New("authz engine: permission store is required")
	}

	e := &Engine{
		users: users,
		perms: perms,
		cache: cache,
		ttl:   DefaultEffectiveTTL,
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Authorize decides whether the user holds the named permission, considering
// hierarchical fallback: holding an ancestor satisfies a request for a more
// specific descendant, never the reverse.
func (e *Engine) Authorize(ctx context.Context, userID, permission string) (Decision, error) {
	permission = strings.TrimSpace(permission)
	if !validPermissionName(permission) {
		return notAuthorized(permission, ReasonInvalidInput), nil
	}

	outcome, err := e.loadEffective(ctx, userID)
	if err != nil || outcome.decision != nil {
		return failedDecision(permission, outcome.decision), err
	}

	decision := e.check(outcome, permission)
	decision.Effective = outcome.names
	decision.CacheHit = outcome.cacheHit
	return decision, nil
}

// AuthorizeAction builds the "resource.action" permission name and delegates
// to Authorize.
func (e *Engine) AuthorizeAction(ctx context.Context, userID, resource, action string) (Decision, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return notAuthorized("", ReasonInvalidInput), nil
	}
	return e.Authorize(ctx, userID, models.PermissionName(resource, action))
}

// AuthorizeAny authorizes when the user satisfies at least one of the
// requested permissions. The reason names the matches, if any.
func (e *Engine) AuthorizeAny(ctx context.Context, userID string, permissions []string) (Decision, error) {
	permissions = trimPermissions(permissions)
	if len(permissions) == 0 {
		return notAuthorized("", ReasonInvalidInput), nil
	}

	outcome, err := e.loadEffective(ctx, userID)
	if err != nil || outcome.decision != nil {
		return failedDecision(strings.Join(permissions, ","), outcome.decision), err
	}

	var matched []string
	for _, permission := range permissions {
		if decision := e.check(outcome, permission); decision.Authorized {
			matched = append(matched, decision.MatchedBy)
		}
	}

	if len(matched) == 0 {
		decision := notAuthorized(strings.Join(permissions, ","), ReasonNotGranted)
		decision.Effective = outcome.names
		decision.CacheHit = outcome.cacheHit
		return decision, nil
	}

	return Decision{
		Authorized: true,
		Permission: strings.Join(permissions, ","),
		MatchedBy:  matched[0],
		Reason:     "matched: " + strings.Join(matched, ", "),
		Effective:  outcome.names,
		CacheHit:   outcome.cacheHit,
	}, nil
}

// AuthorizeAll authorizes only when every requested permission is satisfied.
// On failure the reason enumerates the missing subset.
func (e *Engine) AuthorizeAll(ctx context.Context, userID string, permissions []string) (Decision, error) {
	permissions = trimPermissions(permissions)
	if len(permissions) == 0 {
		return notAuthorized("", ReasonInvalidInput), nil
	}

	outcome, err := e.loadEffective(ctx, userID)
	if err != nil || outcome.decision != nil {
		return failedDecision(strings.Join(permissions, ","), outcome.decision), err
	}

	var missing []string
	for _, permission := range permissions {
		if decision := e.check(outcome, permission); !decision.Authorized {
			missing = append(missing, permission)
		}
	}

	if len(missing) > 0 {
		decision := notAuthorized(strings.Join(permissions, ","), missingReason(missing))
		decision.Effective = outcome.names
		decision.CacheHit = outcome.cacheHit
		return decision, nil
	}

	return Decision{
		Authorized: true,
		Permission: strings.Join(permissions, ","),
		Reason:     ReasonGranted,
		Effective:  outcome.names,
		CacheHit:   outcome.cacheHit,
	}, nil
}

// BulkAuthorize answers each requested permission independently against a
// single effective-set computation, so every decision in the batch reflects
// the same data snapshot.
func (e *Engine) BulkAuthorize(ctx context.Context, userID string, permissions []string) (map[string]Decision, error) {
	permissions = trimPermissions(permissions)
	if len(permissions) == 0 {
		return map[string]Decision{}, nil
	}

	outcome, err := e.loadEffective(ctx, userID)

	decisions := make(map[string]Decision, len(permissions))
	for _, permission := range permissions {
		switch {
		case err != nil || outcome.decision != nil:
			decisions[permission] = failedDecision(permission, outcome.decision)
		case !validPermissionName(permission):
			decisions[permission] = notAuthorized(permission, ReasonInvalidInput)
		default:
			decision := e.check(outcome, permission)
			decision.CacheHit = outcome.cacheHit
			decisions[permission] = decision
		}
	}
	return decisions, err
}

// EffectivePermissions returns the user's effective permission names, sorted.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	outcome, err := e.loadEffective(ctx, userID)
	if err != nil {
		return nil, err
	}
	if outcome.decision != nil {
		if outcome.decision.Reason == ReasonUserNotFound {
			return nil, ErrUserNotFound
		}
		return []string{}, nil
	}
	return outcome.names, nil
}

// Invalidate drops the user's cached effective set. Owning services call this
// after any mutation that changes the user's access.
func (e *Engine) Invalidate(ctx context.Context, userID string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Invalidate(ctx, userID)
}

// InvalidateAll drops every cached effective set.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateAll(ctx)
}

// effectiveOutcome carries the result of one effective-set resolution. When
// decision is non-nil the resolution short-circuited (business failure or
// infrastructure failure) and set/names are empty.
type effectiveOutcome struct {
	set      map[string]struct{}
	names    []string
	catalog  *Catalog
	cacheHit bool
	decision *Decision
}

func (e *Engine) loadEffective(ctx context.Context, userID string) (effectiveOutcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		d := notAuthorized("", ReasonInvalidInput)
		return effectiveOutcome{decision: &d}, nil
	}

	catalog, err := e.loadCatalog(ctx)
	if err != nil {
		e.log.Error("authz: load permission catalog", zap.Error(err))
		d := notAuthorized("", ReasonInternalError)
		return effectiveOutcome{decision: &d}, err
	}

	var token string
	if e.cache != nil {
		names, tok, hit, cacheErr := e.cache.GetEffective(ctx, userID)
		if cacheErr != nil {
			// cache outage degrades to recomputation, never to a grant
			e.log.Warn("authz: effective cache read", zap.String("user_id", userID), zap.Error(cacheErr))
		} else if hit {
			return effectiveOutcome{
				set:      nameSet(names),
				names:    names,
				catalog:  catalog,
				cacheHit: true,
			}, nil
		}
		token = tok
	}

	access, err := e.users.GetUserWithAccess(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			d := notAuthorized("", ReasonUserNotFound)
			return effectiveOutcome{decision: &d}, nil
		}
		e.log.Error("authz: load user access", zap.String("user_id", userID), zap.Error(err))
		d := notAuthorized("", ReasonInternalError)
		return effectiveOutcome{decision: &d}, fmt.Errorf("authz engine: load user access: %w", err)
	}

	if !access.User.IsActive {
		d := notAuthorized("", ReasonUserInactive)
		return effectiveOutcome{decision: &d}, nil
	}

	set := ComputeEffective(&access.User, access.Roles, access.Overrides, catalog, e.now())
	names := EffectiveNames(set)

	// a cancelled load must not publish a possibly partial set
	if e.cache != nil && ctx.Err() == nil {
		if cacheErr := e.cache.SetEffective(ctx, userID, token, names, e.ttl); cacheErr != nil {
			e.log.Warn("authz: effective cache write", zap.String("user_id", userID), zap.Error(cacheErr))
		}
	}

	return effectiveOutcome{set: set, names: names, catalog: catalog}, nil
}

func (e *Engine) loadCatalog(ctx context.Context) (*Catalog, error) {
	perms, err := e.perms.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz engine: load catalog: %w", err)
	}
	return NewCatalog(perms), nil
}

// check matches one permission name against a resolved effective set,
// falling back to the permission's ancestors.
func (e *Engine) check(outcome effectiveOutcome, permission string) Decision {
	entry, known := outcome.catalog.ByName(permission)
	if !known {
		return notAuthorized(permission, ReasonUnknownPermission)
	}

	if _, ok := outcome.set[permission]; ok {
		return granted(permission, permission)
	}

	for _, ancestor := range outcome.catalog.Ancestors(entry) {
		if _, ok := outcome.set[ancestor.Name]; ok {
			return granted(permission, ancestor.Name)
		}
	}

	return notAuthorized(permission, ReasonNotGranted)
}

// failedDecision rehomes a short-circuit decision onto the permission the
// caller asked about.
func failedDecision(permission string, decision *Decision) Decision {
	if decision == nil {
		return notAuthorized(permission, ReasonInternalError)
	}
	d := *decision
	if d.Permission == "" {
		d.Permission = permission
	}
	return d
}

func validPermissionName(name string) bool {
	resource, action, ok := strings.Cut(name, ".")
	return ok && resource != "" && action != ""
}

func trimPermissions(permissions []string) []string {
	out := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		if trimmed := strings.TrimSpace(permission); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
